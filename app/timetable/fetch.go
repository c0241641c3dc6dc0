package timetable

import (
	"errors"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func classEntries(c *gin.Context, d *internal.Deps, grade, section string) ([]model.TimetableEntry, error) {
	var entries []model.TimetableEntry
	err := d.DB.WithContext(c.Request.Context()).
		Preload("Teacher.Profile").
		Where("grade = ? AND section = ?", grade, section).
		Order("day_of_week ASC, period ASC").
		Find(&entries).Error

	return entries, err
}

func TimetableClass(c *gin.Context, d *internal.Deps) {
	entries, err := classEntries(c, d, c.Param("grade"), c.Param("section"))
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, model.GroupByDay(entries))
}

// TimetableCurrent returns the period a class is in right now
func TimetableCurrent(c *gin.Context, d *internal.Deps) {
	now := d.Tokens.Now()
	clock := now.Format("15:04")

	var entry model.TimetableEntry
	err := d.DB.WithContext(c.Request.Context()).
		Preload("Teacher.Profile").
		Where("grade = ? AND section = ? AND day_of_week = ?", c.Param("grade"), c.Param("section"), int(now.Weekday())).
		Where("start_time <= ? AND end_time > ?", clock, clock).
		Order("period ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.List(c, nil, gin.H{"message": "No class is scheduled right now"})
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, entry)
}

// TimetableTeacher returns a teacher's week. Teachers may only read their own.
func TimetableTeacher(c *gin.Context, d *internal.Deps) {
	teacherID := c.Param("teacherId")

	if err := access.ScopeTeacher(middleware.MustIdentity(c), teacherID); err != nil {
		respond.Error(c, err)
		return
	}

	var entries []model.TimetableEntry
	err := d.DB.WithContext(c.Request.Context()).
		Where("teacher_id = ?", teacherID).
		Order("day_of_week ASC, start_time ASC").
		Find(&entries).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, model.GroupByDay(entries))
}

// TimetableStudent returns the timetable of the calling student's class
func TimetableStudent(c *gin.Context, d *internal.Deps) {
	s, err := access.StudentOf(c.Request.Context(), d.DB, middleware.MustIdentity(c).ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	entries, err := classEntries(c, d, s.Grade, s.Section)
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, model.GroupByDay(entries))
}
