// Package auth contains the account lifecycle endpoints: registration,
// login, token refresh, email verification and password reset
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/security"

	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	"gorm.io/gorm"
)

// SetSessionCookie stores the access token in an http-only cookie so browser
// clients don't have to handle it
func SetSessionCookie(c *gin.Context, s *security.Session) {
	maxAge := int(time.Until(s.Access.Expires).Seconds())

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, s.Access.Token, maxAge, "/", "", v.GetBool("host.ssl.enabled"), true)
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, "", -1, "/", "", v.GetBool("host.ssl.enabled"), true)
}

// issueToken creates a single purpose token and records it in tx
func issueToken(tx *gorm.DB, d *internal.Deps, u *model.User, purpose model.TokenPurpose, ttl time.Duration) (string, error) {
	token, row, err := d.Tokens.MakeVerificationToken(&security.VerificationTokenOpts{
		UserID:  u.ID,
		Email:   u.Email,
		Purpose: purpose,
		TTL:     ttl,
	})
	if err != nil {
		return "", err
	}

	if err := tx.Create(row).Error; err != nil {
		return "", err
	}

	return token, nil
}

// redeem verifies raw as a purpose token and marks it used in tx. A token
// can only be redeemed once, only for the purpose it was issued for and only
// while the account still has the address it was mailed to.
func redeem(tx *gorm.DB, d *internal.Deps, raw string, purpose model.TokenPurpose) (*security.Claims, error) {
	claims, err := d.Tokens.VerifyPurpose(raw, purpose)
	if err != nil {
		msg := "Invalid or expired token"
		if errors.Is(err, security.ErrExpiredToken) {
			msg = "Token expired"
		}

		return nil, apperr.Unauthenticated(msg).Wrap(err)
	}

	var emails []string
	err = tx.Model(&model.User{}).Where("id = ?", claims.UserID).Pluck("email", &emails).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// a token mailed to an address the account no longer has proves nothing
	if len(emails) == 0 || !strings.EqualFold(emails[0], claims.Email) {
		return nil, apperr.Unauthenticated("Token was already used or is invalid")
	}

	now := d.Tokens.Now()
	res := tx.Model(&model.VerificationToken{}).
		Where("id = ? AND user_id = ? AND purpose = ? AND used = ? AND expires_at > ?", claims.ID, claims.UserID, purpose, false, now).
		Updates(map[string]any{
			"used":    true,
			"used_at": now,
		})
	if res.Error != nil {
		return nil, apperr.Internal(res.Error)
	}

	if res.RowsAffected == 0 {
		return nil, apperr.Unauthenticated("Token was already used or is invalid")
	}

	return claims, nil
}

// SendVerification issues a new email verification token for u and queues
// the mail, subject to the resend throttle
func SendVerification(ctx context.Context, d *internal.Deps, u *model.User) error {
	if u.Verified {
		return apperr.BadRequest("Email is already verified")
	}

	var token string

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rr := model.ResendRequest{UserID: u.ID}
		if err := tx.Where("user_id = ?", u.ID).FirstOrInit(&rr).Error; err != nil {
			return err
		}

		if err := rr.Register(d.Tokens.Now()); err != nil {
			return apperr.BadRequest(err.Error())
		}

		if err := tx.Save(&rr).Error; err != nil {
			return err
		}

		t, err := issueToken(tx, d, u, model.PurposeEmailVerify, v.GetDuration("jwt.verify_ttl"))
		token = t
		return err
	})
	if err != nil {
		return err
	}

	d.Notifier.SendVerificationMail(u.Email, token)
	return nil
}
