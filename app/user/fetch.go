// Package user contains account administration and the endpoints a user
// manages their own account with
package user

import (
	"errors"
	"strings"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserList searches users by email and name
func UserList(c *gin.Context, d *internal.Deps) {
	page, limit, offset := respond.PageParams(c, 10)
	db := d.DB.WithContext(c.Request.Context())

	q := db.Model(&model.User{})

	if s := strings.TrimSpace(c.Query("search")); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		names := db.Model(&model.Profile{}).
			Select("user_id").
			Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like)

		q = q.Where("LOWER(email) LIKE ? OR id IN (?)", like, names)
	}

	if r := c.Query("role"); r != "" {
		role, err := model.ParseRole(r)
		if err != nil {
			respond.Error(c, apperr.BadRequest(err.Error()))
			return
		}
		q = q.Where("role = ?", role)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var users []model.User
	err := q.Preload("Profile").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.List(c, users, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}

func loadUser(c *gin.Context, d *internal.Deps, id string) (*model.User, error) {
	var user model.User
	if err := d.DB.WithContext(c.Request.Context()).Preload("Profile").First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User not found")
		}

		return nil, apperr.Internal(err)
	}

	return &user, nil
}

func UserFetch(c *gin.Context, d *internal.Deps) {
	user, err := loadUser(c, d, c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, user)
}
