package homework

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

// HomeworkList lists homework. Teachers see what they assigned, students
// what was assigned to their class.
func HomeworkList(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	ctx := c.Request.Context()
	page, limit, offset := respond.PageParams(c, 10)

	q := d.DB.WithContext(ctx).Model(&model.Homework{})

	switch id.Role {
	case model.RoleTeacher:
		q = q.Where("teacher_id = ?", id.ID)
		if class := c.Query("class"); class != "" {
			q = q.Where("class = ?", class)
		}
	case model.RoleStudent:
		s, err := access.StudentOf(ctx, d.DB, id.ID)
		if err != nil {
			respond.Error(c, err)
			return
		}
		q = q.Where("class = ?", s.Grade)
	}

	if subject := c.Query("subject"); subject != "" {
		q = q.Where("subject = ?", subject)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var homework []model.Homework
	err := q.Preload("Attachments").
		Preload("Teacher.Profile").
		Order("due_date DESC").
		Limit(limit).
		Offset(offset).
		Find(&homework).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.List(c, homework, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}

type studentHomework struct {
	model.Homework
	Submission *model.HomeworkSubmission `json:"submission"`
}

// HomeworkForStudent lists the homework of a student's class along with the
// student's submission for each
func HomeworkForStudent(c *gin.Context, d *internal.Deps) {
	ctx := c.Request.Context()

	s, err := access.ScopeStudent(ctx, d.DB, middleware.MustIdentity(c), c.Param("studentId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	page, limit, offset := respond.PageParams(c, 10)
	q := d.DB.WithContext(ctx).Model(&model.Homework{}).Where("class = ?", s.Grade)
	if subject := c.Query("subject"); subject != "" {
		q = q.Where("subject = ?", subject)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var homework []model.Homework
	err = q.Preload("Attachments").
		Order("due_date DESC").
		Limit(limit).
		Offset(offset).
		Find(&homework).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	ids := make([]string, len(homework))
	for i, h := range homework {
		ids[i] = h.ID
	}

	var submissions []model.HomeworkSubmission
	if len(ids) > 0 {
		err := d.DB.WithContext(ctx).
			Preload("Attachments").
			Where("student_id = ? AND homework_id IN ?", s.ID, ids).
			Find(&submissions).Error
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
	}

	byHomework := make(map[string]*model.HomeworkSubmission, len(submissions))
	for i := range submissions {
		byHomework[submissions[i].HomeworkID] = &submissions[i]
	}

	out := make([]studentHomework, len(homework))
	for i, h := range homework {
		out[i] = studentHomework{Homework: h, Submission: byHomework[h.ID]}
	}

	respond.List(c, out, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}
