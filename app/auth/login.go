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
	"gorm.io/gorm"
)

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var errBadCredentials = apperr.Unauthenticated("Incorrect email or password")

func Login(c *gin.Context, d *internal.Deps) {
	var data loginBody
	if !respond.Bind(c, &data) {
		return
	}

	var user model.User
	err := d.DB.WithContext(c.Request.Context()).
		Preload("Profile").
		Where("email = ?", validators.NormalizeEmail(data.Email)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, errBadCredentials)
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	ok, err := d.Argon.Verify(data.Password, user.PasswordHash)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if !ok {
		respond.Error(c, errBadCredentials)
		return
	}

	if !user.Verified {
		respond.Error(c, apperr.Unauthenticated("Please verify your email first"))
		return
	}

	session, err := d.Tokens.IssueSession(&user)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	SetSessionCookie(c, session)
	respond.OK(c, gin.H{
		"user":   user,
		"tokens": session,
	})
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokens trades a refresh token for a new session
func RefreshTokens(c *gin.Context, d *internal.Deps) {
	var data refreshBody
	if !respond.Bind(c, &data) {
		return
	}

	claims, err := d.Tokens.VerifyRefresh(data.RefreshToken)
	if err != nil {
		respond.Error(c, apperr.Unauthenticated("Please authenticate").Wrap(err))
		return
	}

	var user model.User
	if err := d.DB.WithContext(c.Request.Context()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, apperr.NotFound("User not found"))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	if user.TokenStale(claims.IssuedAt.Time) {
		respond.Error(c, apperr.Unauthenticated("User recently changed password. Please log in again"))
		return
	}

	session, err := d.Tokens.IssueSession(&user)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	SetSessionCookie(c, session)
	respond.OK(c, gin.H{"tokens": session})
}

func Logout(c *gin.Context) {
	clearSessionCookie(c)
	respond.Message(c, http.StatusOK, "Logged out successfully")
}
