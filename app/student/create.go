package student

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

type createBody struct {
	Email           string  `json:"email" binding:"required"`
	Password        string  `json:"password" binding:"required"`
	FirstName       string  `json:"firstName" binding:"required,max=100"`
	LastName        string  `json:"lastName" binding:"required,max=100"`
	DateOfBirth     *string `json:"dateOfBirth" binding:"omitempty,date"`
	AdmissionNumber string  `json:"admissionNumber" binding:"required,max=50"`
	Grade           string  `json:"grade" binding:"required,max=20"`
	Section         string  `json:"section" binding:"required,max=10"`
	RollNumber      int     `json:"rollNumber" binding:"gte=0"`
	ParentID        *string `json:"parentId"`
}

// checkParent makes sure id names a parent account
func checkParent(tx *gorm.DB, id string) error {
	var role model.Role
	err := tx.Model(&model.User{}).Select("role").Where("id = ?", id).Scan(&role).Error
	if err != nil {
		return err
	}

	if role != model.RoleParent {
		return apperr.BadRequest("parentId must reference a parent account")
	}

	return nil
}

// StudentCreate creates a student record along with the student's own login
func StudentCreate(c *gin.Context, d *internal.Deps) {
	var data createBody
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

	student := &model.Student{
		AdmissionNumber: data.AdmissionNumber,
		Grade:           data.Grade,
		Section:         data.Section,
		RollNumber:      data.RollNumber,
		ParentID:        data.ParentID,
	}

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if data.ParentID != nil {
			if err := checkParent(tx, *data.ParentID); err != nil {
				return err
			}
		}

		user := &model.User{
			Email:        data.Email,
			PasswordHash: hash,
			Role:         model.RoleStudent,
			Verified:     true,
			Profile: &model.Profile{
				FirstName:   data.FirstName,
				LastName:    data.LastName,
				DateOfBirth: data.DateOfBirth,
			},
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.BadRequest("Email already taken")
			}
			return err
		}

		student.UserID = &user.ID
		if err := tx.Create(student).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.BadRequest("Admission number already exists")
			}
			return err
		}

		student.User = user
		return nil
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    student,
	})
}
