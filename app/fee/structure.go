// Package fee contains fee structures, fee obligations and payments
package fee

import (
	"errors"
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type structureBody struct {
	Name           string  `json:"name" binding:"required,max=100"`
	Description    string  `json:"description"`
	Amount         int64   `json:"amount" binding:"required,gt=0"`
	Frequency      string  `json:"frequency" binding:"required,oneof=monthly quarterly annual one-time"`
	ApplicableFrom string  `json:"applicableFrom" binding:"required,date"`
	ApplicableTo   *string `json:"applicableTo" binding:"omitempty,date"`
}

func StructureCreate(c *gin.Context, d *internal.Deps) {
	var data structureBody
	if !respond.Bind(c, &data) {
		return
	}

	if data.ApplicableTo != nil && *data.ApplicableTo < data.ApplicableFrom {
		respond.Error(c, apperr.BadRequest("applicableTo must not be before applicableFrom"))
		return
	}

	s := &model.FeeStructure{
		Name:           data.Name,
		Description:    data.Description,
		Amount:         data.Amount,
		Frequency:      model.FeeFrequency(data.Frequency),
		ApplicableFrom: data.ApplicableFrom,
		ApplicableTo:   data.ApplicableTo,
	}

	if err := d.DB.WithContext(c.Request.Context()).Create(s).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    s,
	})
}

func StructureList(c *gin.Context, d *internal.Deps) {
	page, limit, offset := respond.PageParams(c, 10)

	q := d.DB.WithContext(c.Request.Context()).Model(&model.FeeStructure{})
	if f := c.Query("frequency"); f != "" {
		q = q.Where("frequency = ?", f)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	var structures []model.FeeStructure
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&structures).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.List(c, structures, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}

type structureEditBody struct {
	Name           *string `json:"name" binding:"omitempty,min=1,max=100"`
	Description    *string `json:"description"`
	Amount         *int64  `json:"amount" binding:"omitempty,gt=0"`
	Frequency      *string `json:"frequency" binding:"omitempty,oneof=monthly quarterly annual one-time"`
	ApplicableFrom *string `json:"applicableFrom" binding:"omitempty,date"`
	ApplicableTo   *string `json:"applicableTo" binding:"omitempty,date"`
}

func loadStructure(c *gin.Context, d *internal.Deps) (*model.FeeStructure, error) {
	var s model.FeeStructure
	if err := d.DB.WithContext(c.Request.Context()).First(&s, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Fee structure not found")
		}

		return nil, apperr.Internal(err)
	}

	return &s, nil
}

// StructureEdit changes a template. Obligations already assigned keep the
// amount they were created with.
func StructureEdit(c *gin.Context, d *internal.Deps) {
	var data structureEditBody
	if !respond.Bind(c, &data) {
		return
	}

	s, err := loadStructure(c, d)
	if err != nil {
		respond.Error(c, err)
		return
	}

	if data.Name != nil {
		s.Name = *data.Name
	}
	if data.Description != nil {
		s.Description = *data.Description
	}
	if data.Amount != nil {
		s.Amount = *data.Amount
	}
	if data.Frequency != nil {
		s.Frequency = model.FeeFrequency(*data.Frequency)
	}
	if data.ApplicableFrom != nil {
		s.ApplicableFrom = *data.ApplicableFrom
	}
	if data.ApplicableTo != nil {
		s.ApplicableTo = data.ApplicableTo
	}

	if s.ApplicableTo != nil && *s.ApplicableTo < s.ApplicableFrom {
		respond.Error(c, apperr.BadRequest("applicableTo must not be before applicableFrom"))
		return
	}

	if err := d.DB.WithContext(c.Request.Context()).Save(s).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	respond.OK(c, s)
}

func StructureDelete(c *gin.Context, d *internal.Deps) {
	s, err := loadStructure(c, d)
	if err != nil {
		respond.Error(c, err)
		return
	}

	db := d.DB.WithContext(c.Request.Context())

	var assigned int64
	if err := db.Model(&model.StudentFee{}).Where("fee_structure_id = ?", s.ID).Count(&assigned).Error; err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	if assigned > 0 {
		respond.Error(c, apperr.BadRequest("Fee structure is assigned to students and can't be deleted").
			WithDetails(map[string]any{"assigned": assigned}))
		return
	}

	if err := db.Delete(s).Error; err != nil {
		respond.Error(c, err)
		return
	}

	respond.Message(c, http.StatusOK, "Fee structure deleted successfully")
}
