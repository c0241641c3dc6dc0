package user

import (
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type profileFields struct {
	FirstName   *string `json:"firstName" binding:"omitempty,min=1,max=100"`
	LastName    *string `json:"lastName" binding:"omitempty,min=1,max=100"`
	Phone       *string `json:"phone" binding:"omitempty,max=20"`
	Address     *string `json:"address" binding:"omitempty,max=255"`
	DateOfBirth *string `json:"dateOfBirth" binding:"omitempty,date"`
	PictureURL  *string `json:"profilePicture" binding:"omitempty,url"`
}

func (p profileFields) updates() map[string]any {
	u := map[string]any{}

	set := func(col string, val *string) {
		if val != nil {
			u[col] = *val
		}
	}

	set("first_name", p.FirstName)
	set("last_name", p.LastName)
	set("phone", p.Phone)
	set("address", p.Address)
	set("date_of_birth", p.DateOfBirth)
	set("picture_url", p.PictureURL)

	return u
}

// saveProfile applies updates to the profile of userID, creating the
// profile if the user has none yet
func saveProfile(tx *gorm.DB, userID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	p := model.Profile{UserID: userID}
	if err := tx.Where("user_id = ?", userID).FirstOrCreate(&p).Error; err != nil {
		return err
	}

	return tx.Model(&p).Updates(updates).Error
}

type editBody struct {
	profileFields
	Email      *string `json:"email"`
	Role       *string `json:"role" binding:"omitempty,oneof=admin teacher parent student"`
	IsVerified *bool   `json:"is_verified"`
}

// UserEdit lets an admin change any account. Changing the email address
// marks the account unverified unless is_verified is given as well.
func UserEdit(c *gin.Context, d *internal.Deps) {
	var data editBody
	if !respond.Bind(c, &data) {
		return
	}

	user, err := loadUser(c, d, c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	updates := map[string]any{}

	if data.Email != nil {
		email := validators.NormalizeEmail(*data.Email)
		if err := validators.EmailValidator(email); err != nil {
			respond.Error(c, apperr.BadRequest(err.Error()))
			return
		}

		if email != user.Email {
			updates["email"] = email
			updates["verified"] = false
		}
	}

	if data.Role != nil {
		updates["role"] = model.Role(*data.Role)
	}

	if data.IsVerified != nil {
		updates["verified"] = *data.IsVerified
	}

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if email, ok := updates["email"]; ok {
			var taken bool
			err := tx.Model(&model.User{}).
				Select("count(*) > 0").
				Where("email = ? AND id <> ?", email, user.ID).
				Find(&taken).Error
			if err != nil {
				return err
			}

			if taken {
				return apperr.BadRequest("Email already taken")
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		// links mailed to the old address must not work for the new one
		if _, ok := updates["email"]; ok {
			err := tx.Where("user_id = ? AND used = ?", user.ID, false).Delete(&model.VerificationToken{}).Error
			if err != nil {
				return err
			}
		}

		return saveProfile(tx, user.ID, data.profileFields.updates())
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	user, err = loadUser(c, d, user.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, user)
}

func UserDelete(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	target := c.Param("id")

	if target == id.ID {
		respond.Error(c, apperr.BadRequest("You cannot delete your own account"))
		return
	}

	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.Profile{}, &model.VerificationToken{}, &model.ResendRequest{}, &model.CircularRecipient{}} {
			if err := tx.Where("user_id = ?", target).Delete(m).Error; err != nil {
				return err
			}
		}

		res := tx.Where("id = ?", target).Delete(&model.User{})
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

	respond.Message(c, http.StatusOK, "User deleted successfully")
}
