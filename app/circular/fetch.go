package circular

import (
	"errors"
	"net/http"
	"time"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// staff see every circular
func staff(id access.Identity) bool {
	return id.Is(model.RoleAdmin, model.RoleTeacher)
}

// visibleTo limits circulars to the ones addressed to id or to everybody
func visibleTo(db *gorm.DB, id access.Identity) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if staff(id) {
			return q
		}

		addressed := db.Model(&model.CircularRecipient{}).Select("circular_id").Where("user_id = ?", id.ID)
		anyone := db.Model(&model.CircularRecipient{}).Select("circular_id")

		return q.Where("circulars.id IN (?) OR circulars.id NOT IN (?)", addressed, anyone)
	}
}

// CircularList lists circulars newest first. startDate and endDate select
// circulars whose validity overlaps that range.
func CircularList(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	db := d.DB.WithContext(c.Request.Context())
	page, limit, offset := respond.PageParams(c, 10)

	start, end := c.Query("startDate"), c.Query("endDate")
	if err := validators.DateRange(start, end); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	q := db.Model(&model.Circular{}).Scopes(visibleTo(db, id))

	if c.Query("importantOnly") == "true" {
		q = q.Where("is_important = ?", true)
	}
	if start != "" {
		q = q.Where("end_date IS NULL OR end_date >= ?", start)
	}
	if end != "" {
		q = q.Where("start_date IS NULL OR start_date <= ?", end)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var circulars []model.Circular
	err := q.Preload("Author.Profile").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&circulars).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.List(c, circulars, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}

func markRead(db *gorm.DB, circularID, userID string, now time.Time) (bool, error) {
	var r model.CircularRecipient
	if err := db.Where("circular_id = ? AND user_id = ?", circularID, userID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}

		return false, err
	}

	if r.ReadAt != nil {
		return true, nil
	}

	return true, db.Model(&r).Update("read_at", now).Error
}

// CircularFetch returns a circular with its author and recipients. Reading
// it counts as a read receipt for recipients outside the staff.
func CircularFetch(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	db := d.DB.WithContext(c.Request.Context())

	var circular model.Circular
	err := db.Scopes(visibleTo(db, id)).
		Preload("Author.Profile").
		Preload("Recipients.User.Profile").
		First(&circular, "circulars.id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, apperr.NotFound("Circular not found"))
			return
		}

		respond.Error(c, apperr.Internal(err))
		return
	}

	if !staff(id) {
		if _, err := markRead(db, circular.ID, id.ID, d.Tokens.Now()); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
	}

	respond.OK(c, circular)
}

func CircularRead(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	db := d.DB.WithContext(c.Request.Context())

	ok, err := markRead(db, c.Param("id"), id.ID, d.Tokens.Now())
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if !ok {
		respond.Error(c, apperr.NotFound("Circular not found or you are not a recipient"))
		return
	}

	respond.Message(c, http.StatusOK, "Circular marked as read")
}
