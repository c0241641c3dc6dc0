// Package attendance contains daily attendance marking and reports
package attendance

import (
	"errors"
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type markBody struct {
	StudentID string `json:"studentId" binding:"required"`
	Date      string `json:"date" binding:"required,date"`
	Status    string `json:"status" binding:"required,oneof=present absent late half-day"`
	Reason    string `json:"reason" binding:"omitempty,max=255"`
}

var errAlreadyMarked = apperr.BadRequest("Attendance already marked for this date")

// AttendanceMark records one student's attendance for a day. Marking the
// same day twice is rejected by the unique index, so concurrent requests
// can't produce duplicates either.
func AttendanceMark(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data markBody
	if !respond.Bind(c, &data) {
		return
	}

	db := d.DB.WithContext(c.Request.Context())

	var exists bool
	if err := db.Model(&model.Student{}).Select("count(*) > 0").Where("id = ?", data.StudentID).Find(&exists).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if !exists {
		respond.Error(c, apperr.NotFound("Student not found"))
		return
	}

	record := &model.Attendance{
		StudentID:  data.StudentID,
		Date:       data.Date,
		Status:     model.AttendanceStatus(data.Status),
		Reason:     data.Reason,
		RecordedBy: id.ID,
	}

	if err := db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respond.Error(c, errAlreadyMarked.Wrap(err))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    record,
	})
}

type editBody struct {
	Status *string `json:"status" binding:"omitempty,oneof=present absent late half-day"`
	Reason *string `json:"reason" binding:"omitempty,max=255"`
}

// AttendanceEdit changes a record. Only the teacher who recorded it or an
// admin may do so.
func AttendanceEdit(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data editBody
	if !respond.Bind(c, &data) {
		return
	}

	db := d.DB.WithContext(c.Request.Context())

	var record model.Attendance
	if err := db.First(&record, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, apperr.NotFound("Attendance record not found"))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	if err := access.OwnerOrAdmin(id, record.RecordedBy, "attendance records"); err != nil {
		respond.Error(c, err)
		return
	}

	updates := map[string]any{}
	if data.Status != nil {
		updates["status"] = *data.Status
	}
	if data.Reason != nil {
		updates["reason"] = *data.Reason
	}

	if len(updates) > 0 {
		if err := db.Model(&record).Updates(updates).Error; err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
	}

	respond.OK(c, record)
}
