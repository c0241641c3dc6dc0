package homework

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createForm struct {
	Title       string `form:"title" binding:"required,max=200"`
	Description string `form:"description"`
	Subject     string `form:"subject" binding:"required,max=100"`
	Class       string `form:"class" binding:"required,max=20"`
	DueDate     string `form:"dueDate" binding:"required"`
}

// parseDue accepts an RFC 3339 timestamp or a plain date, which is due at
// the end of that day
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	t, err := time.ParseInLocation(model.DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, errors.New("dueDate must be a date or an RFC 3339 timestamp")
	}

	return t.Add(24*time.Hour - time.Second), nil
}

// HomeworkCreate assigns homework to a class with up to five attachments
func HomeworkCreate(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data createForm
	if !respond.Bind(c, &data) {
		return
	}

	due, err := parseDue(data.DueDate)
	if err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	hwID, err := model.NewID()
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	attachments, err := uploadAttachments(c, d, "homework/"+hwID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	hw := &model.Homework{
		Meta:        model.Meta{ID: hwID},
		Title:       data.Title,
		Description: data.Description,
		Subject:     data.Subject,
		Class:       data.Class,
		TeacherID:   id.ID,
		DueDate:     due,
		Attachments: attachments,
	}

	if err := d.DB.WithContext(c.Request.Context()).Create(hw).Error; err != nil {
		d.Uploader.Remove(context.Background(), attachments)
		respond.Error(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    hw,
	})
}

// HomeworkDelete deletes a teacher's own homework with all submissions and
// their stored files
func HomeworkDelete(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var hw model.Homework
	err := d.DB.WithContext(c.Request.Context()).
		Preload("Attachments").
		Preload("Submissions.Attachments").
		First(&hw, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, apperr.NotFound("Homework not found"))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	if hw.TeacherID != id.ID {
		respond.Error(c, apperr.Forbidden("You can only delete homework you created"))
		return
	}

	files := append([]model.HomeworkAttachment{}, hw.Attachments...)
	submissionIDs := make([]string, 0, len(hw.Submissions))
	for _, s := range hw.Submissions {
		files = append(files, s.Attachments...)
		submissionIDs = append(submissionIDs, s.ID)
	}

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if len(submissionIDs) > 0 {
			if err := tx.Where("submission_id IN ?", submissionIDs).Delete(&model.HomeworkAttachment{}).Error; err != nil {
				return err
			}
		}

		for _, m := range []any{&model.HomeworkAttachment{}, &model.HomeworkSubmission{}} {
			if err := tx.Where("homework_id = ?", hw.ID).Delete(m).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&hw).Error
	})
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	d.Uploader.Remove(c.Request.Context(), files)
	respond.Message(c, http.StatusOK, "Homework deleted successfully")
}
