package auth

import (
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SendVerificationEmail re-sends the verification mail to an address
func SendVerificationEmail(c *gin.Context, d *internal.Deps) {
	var data emailBody
	if !respond.Bind(c, &data) {
		return
	}

	user, err := userByEmail(c, d, data.Email)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if err := SendVerification(c.Request.Context(), d, user); err != nil {
		respond.Error(c, err)
		return
	}

	respond.Message(c, http.StatusOK, "Verification email sent")
}

type verifyBody struct {
	Token string `json:"token"`
}

// VerifyEmail redeems a verification token. The token may come in the body
// or as the token query parameter, which is what the mailed link uses.
func VerifyEmail(c *gin.Context, d *internal.Deps) {
	var data verifyBody
	if c.Request.ContentLength > 0 && !respond.Bind(c, &data) {
		return
	}

	token := data.Token
	if token == "" {
		token = c.Query("token")
	}

	if token == "" {
		respond.Error(c, apperr.BadRequest("No verification token provided"))
		return
	}

	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		claims, err := redeem(tx, d, token, model.PurposeEmailVerify)
		if err != nil {
			return err
		}

		res := tx.Model(&model.User{}).
			Where("id = ?", claims.UserID).
			Updates(map[string]any{
				"verified":   true,
				"expires_at": nil,
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

	respond.Message(c, http.StatusOK, "Email verified successfully")
}
