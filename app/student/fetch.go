// Package student contains student record management
package student

import (
	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func StudentList(c *gin.Context, d *internal.Deps) {
	page, limit, offset := respond.PageParams(c, 10)

	q := d.DB.WithContext(c.Request.Context()).Model(&model.Student{})
	if g := c.Query("grade"); g != "" {
		q = q.Where("grade = ?", g)
	}
	if s := c.Query("section"); s != "" {
		q = q.Where("section = ?", s)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var students []model.Student
	err := q.Preload("User.Profile").
		Order("grade ASC, section ASC, roll_number ASC").
		Limit(limit).
		Offset(offset).
		Find(&students).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.List(c, students, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}

// StudentFetch returns one student. Parents only get their own children.
func StudentFetch(c *gin.Context, d *internal.Deps) {
	s, err := access.ScopeStudent(c.Request.Context(), d.DB, middleware.MustIdentity(c), c.Param("studentId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	err = d.DB.WithContext(c.Request.Context()).
		Preload("User.Profile").
		Preload("Parent.Profile").
		First(s, "id = ?", s.ID).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, s)
}
