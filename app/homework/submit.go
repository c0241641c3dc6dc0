package homework

import (
	"context"
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

type submitForm struct {
	SubmissionText string `form:"submissionText"`
}

var errAlreadySubmitted = apperr.BadRequest("You have already submitted this homework")

func loadHomework(c *gin.Context, d *internal.Deps, id string) (*model.Homework, error) {
	var hw model.Homework
	if err := d.DB.WithContext(c.Request.Context()).First(&hw, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Homework not found")
		}

		return nil, apperr.Internal(err)
	}

	return &hw, nil
}

// HomeworkSubmit hands in a student's work. Work handed in after the due
// date is marked late.
func HomeworkSubmit(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	ctx := c.Request.Context()

	var data submitForm
	if !respond.Bind(c, &data) {
		return
	}

	hw, err := loadHomework(c, d, c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	student, err := access.StudentOf(ctx, d.DB, id.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if hw.Class != student.Grade {
		respond.Error(c, apperr.Forbidden("This homework is not assigned to your class"))
		return
	}

	var done bool
	err = d.DB.WithContext(ctx).
		Model(&model.HomeworkSubmission{}).
		Select("count(*) > 0").
		Where("homework_id = ? AND student_id = ?", hw.ID, student.ID).
		Find(&done).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if done {
		respond.Error(c, errAlreadySubmitted)
		return
	}

	subID, err := model.NewID()
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	attachments, err := uploadAttachments(c, d, "submissions/"+subID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	now := d.Tokens.Now()
	sub := &model.HomeworkSubmission{
		Meta:           model.Meta{ID: subID},
		HomeworkID:     hw.ID,
		StudentID:      student.ID,
		SubmissionText: data.SubmissionText,
		SubmittedAt:    now,
		Status:         hw.SubmissionStatusAt(now),
		Attachments:    attachments,
	}

	if err := d.DB.WithContext(ctx).Create(sub).Error; err != nil {
		d.Uploader.Remove(context.Background(), attachments)

		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respond.Error(c, errAlreadySubmitted.Wrap(err))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    sub,
	})
}

// SubmissionList lists the submissions to one of the caller's homework
func SubmissionList(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	hwID := c.Query("homework_id")
	if hwID == "" {
		respond.Error(c, apperr.BadRequest("homework_id is required"))
		return
	}

	hw, err := loadHomework(c, d, hwID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if hw.TeacherID != id.ID {
		respond.Error(c, apperr.Forbidden("You can only view submissions to your own homework"))
		return
	}

	var subs []model.HomeworkSubmission
	err = d.DB.WithContext(c.Request.Context()).
		Preload("Attachments").
		Preload("Student.User.Profile").
		Where("homework_id = ?", hw.ID).
		Order("submitted_at ASC").
		Find(&subs).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, subs)
}

type gradeBody struct {
	Grade    string `json:"grade" binding:"required,max=10"`
	Feedback string `json:"feedback"`
}

// SubmissionGrade grades a submission to one of the caller's homework
func SubmissionGrade(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data gradeBody
	if !respond.Bind(c, &data) {
		return
	}

	db := d.DB.WithContext(c.Request.Context())

	var sub model.HomeworkSubmission
	if err := db.Preload("Homework").First(&sub, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, apperr.NotFound("Submission not found"))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	if sub.Homework == nil || sub.Homework.TeacherID != id.ID {
		respond.Error(c, apperr.Forbidden("You can only grade submissions to your own homework"))
		return
	}

	err := db.Model(&model.HomeworkSubmission{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"grade":    data.Grade,
			"feedback": data.Feedback,
			"status":   model.SubmissionGraded,
		}).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	sub.Grade = &data.Grade
	sub.Feedback = data.Feedback
	sub.Status = model.SubmissionGraded
	sub.Homework = nil

	respond.OK(c, sub)
}
