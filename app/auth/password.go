package auth

import (
	"errors"
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type emailBody struct {
	Email string `json:"email" binding:"required"`
}

func userByEmail(c *gin.Context, d *internal.Deps, email string) (*model.User, error) {
	var user model.User
	err := d.DB.WithContext(c.Request.Context()).
		Where("email = ?", validators.NormalizeEmail(email)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("No user found with this email")
		}

		return nil, apperr.Internal(err)
	}

	return &user, nil
}

// ForgotPassword mails a short lived password reset link
func ForgotPassword(c *gin.Context, d *internal.Deps) {
	var data emailBody
	if !respond.Bind(c, &data) {
		return
	}

	user, err := userByEmail(c, d, data.Email)
	if err != nil {
		respond.Error(c, err)
		return
	}

	var token string
	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		t, err := issueToken(tx, d, user, model.PurposePasswordReset, v.GetDuration("jwt.reset_ttl"))
		token = t
		return err
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	if !d.Notifier.SendPasswordResetMail(user.Email, token) {
		zap.L().Warn("Password reset mail was not queued", zap.String("userID", user.ID), zap.String("requestID", c.GetString("requestID")))
	}

	respond.Message(c, http.StatusOK, "Password reset email sent")
}

type resetBody struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// ResetPassword redeems a reset token. The token is consumed and the
// password changed in one transaction, which also invalidates every session
// issued before.
func ResetPassword(c *gin.Context, d *internal.Deps) {
	var data resetBody
	if !respond.Bind(c, &data) {
		return
	}

	if err := validators.PasswordValidator(data.NewPassword); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	hash, err := d.Argon.Hash(data.NewPassword)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		claims, err := redeem(tx, d, data.Token, model.PurposePasswordReset)
		if err != nil {
			return err
		}

		res := tx.Model(&model.User{}).
			Where("id = ?", claims.UserID).
			Updates(map[string]any{
				"password_hash":       hash,
				"password_changed_at": d.Tokens.Now(),
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return apperr.NotFound("User not found")
		}

		return nil
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.Message(c, http.StatusOK, "Password reset successfully")
}
