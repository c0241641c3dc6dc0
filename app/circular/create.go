// Package circular contains school announcements and their read receipts
package circular

import (
	"errors"
	"net/http"
	"slices"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createBody struct {
	Title        string   `json:"title" binding:"required,max=200"`
	Content      string   `json:"content" binding:"required"`
	IsImportant  bool     `json:"isImportant"`
	StartDate    *string  `json:"startDate" binding:"omitempty,date"`
	EndDate      *string  `json:"endDate" binding:"omitempty,date"`
	RecipientIDs []string `json:"recipientIds" binding:"omitempty,dive,required"`
}

func checkDates(start, end *string) error {
	if start != nil && end != nil && *end < *start {
		return apperr.BadRequest("endDate must not be before startDate")
	}

	return nil
}

// CircularCreate publishes a circular and notifies its recipients. A
// circular without recipients is addressed to everybody.
func CircularCreate(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	ctx := c.Request.Context()

	var data createBody
	if !respond.Bind(c, &data) {
		return
	}

	if err := checkDates(data.StartDate, data.EndDate); err != nil {
		respond.Error(c, err)
		return
	}

	slices.Sort(data.RecipientIDs)
	recipients := slices.Compact(data.RecipientIDs)

	circular := &model.Circular{
		Title:       data.Title,
		Content:     data.Content,
		IsImportant: data.IsImportant,
		StartDate:   data.StartDate,
		EndDate:     data.EndDate,
		AuthorID:    id.ID,
	}

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(recipients) > 0 {
			var found int64
			if err := tx.Model(&model.User{}).Where("id IN ?", recipients).Count(&found).Error; err != nil {
				return err
			}

			if found != int64(len(recipients)) {
				return apperr.BadRequest("One or more recipients not found")
			}
		}

		for _, r := range recipients {
			circular.Recipients = append(circular.Recipients, model.CircularRecipient{UserID: r})
		}

		return tx.Create(circular).Error
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	// mail is queued, a delivery problem never fails the request
	d.Notifier.SendNotification(ctx, circular.Title, circular.Content, recipients)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    circular,
	})
}

type editBody struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=200"`
	Content     *string `json:"content" binding:"omitempty,min=1"`
	IsImportant *bool   `json:"isImportant"`
	StartDate   *string `json:"startDate" binding:"omitempty,date"`
	EndDate     *string `json:"endDate" binding:"omitempty,date"`
}

func loadCircular(c *gin.Context, d *internal.Deps) (*model.Circular, error) {
	var circular model.Circular
	if err := d.DB.WithContext(c.Request.Context()).First(&circular, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Circular not found")
		}

		return nil, apperr.Internal(err)
	}

	return &circular, nil
}

func CircularEdit(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	var data editBody
	if !respond.Bind(c, &data) {
		return
	}

	circular, err := loadCircular(c, d)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if err := access.OwnerOrAdmin(id, circular.AuthorID, "circulars"); err != nil {
		respond.Error(c, err)
		return
	}

	if data.Title != nil {
		circular.Title = *data.Title
	}
	if data.Content != nil {
		circular.Content = *data.Content
	}
	if data.IsImportant != nil {
		circular.IsImportant = *data.IsImportant
	}
	if data.StartDate != nil {
		circular.StartDate = data.StartDate
	}
	if data.EndDate != nil {
		circular.EndDate = data.EndDate
	}

	if err := checkDates(circular.StartDate, circular.EndDate); err != nil {
		respond.Error(c, err)
		return
	}

	if err := d.DB.WithContext(c.Request.Context()).Save(circular).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, circular)
}

func CircularDelete(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)

	circular, err := loadCircular(c, d)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if err := access.OwnerOrAdmin(id, circular.AuthorID, "circulars"); err != nil {
		respond.Error(c, err)
		return
	}

	err = d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("circular_id = ?", circular.ID).Delete(&model.CircularRecipient{}).Error; err != nil {
			return err
		}

		return tx.Delete(circular).Error
	})
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.Message(c, http.StatusOK, "Circular deleted successfully")
}
