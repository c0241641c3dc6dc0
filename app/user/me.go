package user

import (
	"net/http"

	"bitwise74/school-api/app/auth"
	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
)

func ProfileFetch(c *gin.Context, d *internal.Deps) {
	user, err := loadUser(c, d, middleware.MustIdentity(c).ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, user)
}

func ProfileEdit(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data profileFields
	if !respond.Bind(c, &data) {
		return
	}

	if err := saveProfile(d.DB.WithContext(c.Request.Context()), id.ID, data.updates()); err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	user, err := loadUser(c, d, id.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, user)
}

type changePasswordBody struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword replaces the caller's password. Every token issued before
// is stale afterwards, so a fresh session is returned.
func ChangePassword(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data changePasswordBody
	if !respond.Bind(c, &data) {
		return
	}

	user, err := loadUser(c, d, id.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	ok, err := d.Argon.Verify(data.CurrentPassword, user.PasswordHash)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if !ok {
		respond.Error(c, apperr.BadRequest("Current password is incorrect"))
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

	// hash and timestamp in one statement so no token outlives the old password
	err = d.DB.WithContext(c.Request.Context()).
		Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"password_hash":       hash,
			"password_changed_at": d.Tokens.Now(),
		}).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	session, err := d.Tokens.IssueSession(user)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	auth.SetSessionCookie(c, session)
	respond.OK(c, gin.H{"tokens": session})
}

// RequestVerification re-sends the verification mail to the caller. It is
// the one route an unverified account may use.
func RequestVerification(c *gin.Context, d *internal.Deps) {
	user, err := loadUser(c, d, middleware.MustIdentity(c).ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if err := auth.SendVerification(c.Request.Context(), d, user); err != nil {
		respond.Error(c, err)
		return
	}

	respond.Message(c, http.StatusOK, "Verification email sent")
}
