// Package timetable contains class and teacher timetables
package timetable

import (
	"fmt"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type entryBody struct {
	DayOfWeek int    `json:"dayOfWeek" binding:"min=0,max=6"`
	Period    int    `json:"period" binding:"required,min=1"`
	Subject   string `json:"subject" binding:"required,max=100"`
	TeacherID string `json:"teacherId" binding:"required"`
	Room      string `json:"roomNumber" binding:"omitempty,max=20"`
	StartTime string `json:"startTime" binding:"required,clock"`
	EndTime   string `json:"endTime" binding:"required,clock"`
}

type replaceBody struct {
	Entries []entryBody `json:"entries" binding:"dive"`
}

// TimetableReplace replaces the whole timetable of a class
func TimetableReplace(c *gin.Context, d *internal.Deps) {
	var data replaceBody
	if !respond.Bind(c, &data) {
		return
	}

	grade, section := c.Param("grade"), c.Param("section")

	entries := make([]model.TimetableEntry, len(data.Entries))
	teachers := make(map[string]bool)
	slots := make(map[[2]int]bool)

	for i, e := range data.Entries {
		// HH:MM compares correctly as a string
		if e.StartTime >= e.EndTime {
			respond.Error(c, apperr.BadRequest("Start time must be before end time").
				WithDetails(map[string]any{"entry": i}))
			return
		}

		slot := [2]int{e.DayOfWeek, e.Period}
		if slots[slot] {
			respond.Error(c, apperr.BadRequest(fmt.Sprintf("Period %d is listed twice for day %d", e.Period, e.DayOfWeek)).
				WithDetails(map[string]any{"entry": i}))
			return
		}
		slots[slot] = true
		teachers[e.TeacherID] = true

		entries[i] = model.TimetableEntry{
			Grade:     grade,
			Section:   section,
			DayOfWeek: e.DayOfWeek,
			Period:    e.Period,
			Subject:   e.Subject,
			TeacherID: e.TeacherID,
			Room:      e.Room,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		}
	}

	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if len(teachers) > 0 {
			ids := make([]string, 0, len(teachers))
			for id := range teachers {
				ids = append(ids, id)
			}

			var found int64
			err := tx.Model(&model.User{}).
				Where("id IN ? AND role = ?", ids, model.RoleTeacher).
				Count(&found).Error
			if err != nil {
				return err
			}

			if found != int64(len(ids)) {
				return apperr.BadRequest("Every teacherId must reference a teacher account")
			}
		}

		if err := tx.Where("grade = ? AND section = ?", grade, section).Delete(&model.TimetableEntry{}).Error; err != nil {
			return err
		}

		if len(entries) == 0 {
			return nil
		}

		return tx.Create(&entries).Error
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, model.GroupByDay(entries))
}
