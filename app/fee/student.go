package fee

import (
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
)

type assignBody struct {
	DueDate    string   `json:"dueDate" binding:"required,date"`
	StudentIDs []string `json:"studentIds" binding:"omitempty,dive,required"`
	Grade      string   `json:"grade"`
	Section    string   `json:"section"`
}

// FeeAssign creates obligations from a fee structure
func FeeAssign(c *gin.Context, d *internal.Deps) {
	var data assignBody
	if !respond.Bind(c, &data) {
		return
	}

	res, err := d.Ledger.Assign(c.Request.Context(), service.AssignRequest{
		StructureID: c.Param("id"),
		DueDate:     data.DueDate,
		StudentIDs:  data.StudentIDs,
		Grade:       data.Grade,
		Section:     data.Section,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    res,
	})
}

func parseStatus(s string) (model.FeeStatus, error) {
	switch st := model.FeeStatus(s); st {
	case "", model.FeePending, model.FeePartial, model.FeePaid, model.FeeOverdue:
		return st, nil
	}

	return "", apperr.BadRequest("status must be one of: pending partial paid overdue")
}

// FeesForStudent lists a student's fees with their status as of now
func FeesForStudent(c *gin.Context, d *internal.Deps) {
	s, err := access.ScopeStudent(c.Request.Context(), d.DB, middleware.MustIdentity(c), c.Param("studentId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	status, err := parseStatus(c.Query("status"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	from, to := c.Query("from"), c.Query("to")
	if err := validators.DateRange(from, to); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	page, limit, offset := respond.PageParams(c, 10)

	fees, total, err := d.Ledger.StudentFees(c.Request.Context(), s.ID, service.FeeFilter{
		Status: status,
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.List(c, fees, gin.H{"pagination": respond.NewPagination(page, limit, total)})
}
