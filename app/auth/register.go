package auth

import (
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

type registerBody struct {
	Email       string  `json:"email" binding:"required"`
	Password    string  `json:"password" binding:"required"`
	Role        string  `json:"role" binding:"required,oneof=admin teacher parent student"`
	FirstName   string  `json:"firstName" binding:"required,max=100"`
	LastName    string  `json:"lastName" binding:"required,max=100"`
	Phone       string  `json:"phone" binding:"omitempty,max=20"`
	Address     string  `json:"address" binding:"omitempty,max=255"`
	DateOfBirth *string `json:"dateOfBirth" binding:"omitempty,date"`
}

// Register creates an unverified account and mails a verification link
func Register(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	var data registerBody
	if !respond.Bind(c, &data) {
		return
	}

	data.Email = validators.NormalizeEmail(data.Email)

	if err := validators.EmailValidator(data.Email); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	if err := validators.PasswordValidator(data.Password); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	hash, err := d.Argon.Hash(data.Password)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	expiry := d.Tokens.Now().Add(v.GetDuration("auth.unverified_ttl"))
	user := &model.User{
		Email:        data.Email,
		PasswordHash: hash,
		Role:         model.Role(data.Role),
		ExpiresAt:    &expiry,
		Profile: &model.Profile{
			FirstName:   data.FirstName,
			LastName:    data.LastName,
			Phone:       data.Phone,
			Address:     data.Address,
			DateOfBirth: data.DateOfBirth,
		},
	}

	var token string

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var taken bool
		if err := tx.Model(&model.User{}).Select("count(*) > 0").Where("email = ?", data.Email).Find(&taken).Error; err != nil {
			return err
		}

		if taken {
			return apperr.BadRequest("Email already taken")
		}

		// Only the very first account may register itself as an admin
		if user.Role == model.RoleAdmin {
			var users int64
			if err := tx.Model(&model.User{}).Count(&users).Error; err != nil {
				return err
			}

			if users > 0 {
				return apperr.Forbidden("Admin accounts can only be created by an administrator")
			}
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}

		t, err := issueToken(tx, d, user, model.PurposeEmailVerify, v.GetDuration("jwt.verify_ttl"))
		token = t
		return err
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	if !d.Notifier.SendVerificationMail(user.Email, token) {
		zap.L().Warn("Verification mail was not queued", zap.String("userID", user.ID), zap.String("requestID", requestID))
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    gin.H{"user": user},
		"message": "Registration successful. Please check your email to verify your account",
	})
}
