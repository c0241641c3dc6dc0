package student

import (
	"errors"
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type editBody struct {
	AdmissionNumber *string `json:"admissionNumber" binding:"omitempty,min=1,max=50"`
	Grade           *string `json:"grade" binding:"omitempty,min=1,max=20"`
	Section         *string `json:"section" binding:"omitempty,min=1,max=10"`
	RollNumber      *int    `json:"rollNumber" binding:"omitempty,gte=0"`
	ParentID        *string `json:"parentId"`
}

func StudentEdit(c *gin.Context, d *internal.Deps) {
	var data editBody
	if !respond.Bind(c, &data) {
		return
	}

	updates := map[string]any{}
	if data.AdmissionNumber != nil {
		updates["admission_number"] = *data.AdmissionNumber
	}
	if data.Grade != nil {
		updates["grade"] = *data.Grade
	}
	if data.Section != nil {
		updates["section"] = *data.Section
	}
	if data.RollNumber != nil {
		updates["roll_number"] = *data.RollNumber
	}

	var student model.Student

	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&student, "id = ?", c.Param("studentId")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Student not found")
			}
			return err
		}

		if data.ParentID != nil {
			// an empty id unlinks the parent
			if *data.ParentID == "" {
				updates["parent_id"] = nil
			} else {
				if err := checkParent(tx, *data.ParentID); err != nil {
					return err
				}
				updates["parent_id"] = *data.ParentID
			}
		}

		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&student).Updates(updates).Error; err != nil {
			return err
		}

		return tx.First(&student, "id = ?", student.ID).Error
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, student)
}

// StudentDelete removes the student record and the student's own login
func StudentDelete(c *gin.Context, d *internal.Deps) {
	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var student model.Student
		if err := tx.First(&student, "id = ?", c.Param("studentId")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Student not found")
			}
			return err
		}

		if err := tx.Delete(&student).Error; err != nil {
			return err
		}

		if student.UserID == nil {
			return nil
		}

		if err := tx.Where("user_id = ?", *student.UserID).Delete(&model.Profile{}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", *student.UserID).Delete(&model.User{}).Error
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.Message(c, http.StatusOK, "Student deleted successfully")
}
