package service

import (
	"context"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"

	"gorm.io/gorm"
)

type AttendanceFilter struct {
	From, To string
	Limit    int
	Offset   int
}

// StudentAttendance returns one page of a student's attendance, newest first,
// and stats over every record matching the filter
func StudentAttendance(ctx context.Context, db *gorm.DB, studentID string, f AttendanceFilter) ([]model.Attendance, int64, model.AttendanceStats, error) {
	q := db.WithContext(ctx).
		Model(&model.Attendance{}).
		Where("student_id = ?", studentID)

	if f.From != "" {
		q = q.Where("date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("date <= ?", f.To)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, model.AttendanceStats{}, apperr.Internal(err)
	}

	var present int64
	if err := q.Where("status = ?", model.AttendancePresent).Count(&present).Error; err != nil {
		return nil, 0, model.AttendanceStats{}, apperr.Internal(err)
	}

	var records []model.Attendance
	err := q.Order("date DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, model.AttendanceStats{}, apperr.Internal(err)
	}

	return records, total, model.NewAttendanceStats(total, present), nil
}
