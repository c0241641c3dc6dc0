// Package respond writes the JSON envelope every endpoint answers with
package respond

import (
	"bitwise74/school-api/pkg/apperr"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rollbar/rollbar-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Pagination is attached as meta on list endpoints
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

func NewPagination(page, limit int, total int64) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}

	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    data,
	})
}

// Message answers with a human readable message and no data
func Message(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"success": true,
		"message": msg,
	})
}

// List answers with data plus extra top level fields such as pagination or stats
func List(c *gin.Context, data any, extra gin.H) {
	body := gin.H{
		"success": true,
		"data":    data,
	}

	for k, v := range extra {
		body[k] = v
	}

	c.JSON(http.StatusOK, body)
}

// Error classifies err, logs it and aborts the request with the error envelope.
// Internal errors never leak their cause in production.
func Error(c *gin.Context, err error) {
	e := apperr.From(err)
	requestID := c.GetString("requestID")
	production := viper.GetString("app.env") == "production"

	msg := e.Message
	fields := []zap.Field{
		zap.String("requestID", requestID),
		zap.String("kind", e.Kind.String()),
		zap.String("path", c.FullPath()),
	}
	if v := c.GetString("userID"); v != "" {
		fields = append(fields, zap.String("userID", v))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	if e.Kind == apperr.KindInternal {
		zap.L().Error(e.Message, fields...)

		if viper.GetString("rollbar.token") != "" {
			rollbar.Error(err, map[string]any{
				"requestID": requestID,
				"path":      c.FullPath(),
			})
		}

		if !production && e.Err != nil {
			msg = e.Err.Error()
		}
	} else {
		zap.L().Debug(e.Message, fields...)
	}

	body := gin.H{
		"code":    e.Kind.Status(),
		"message": msg,
	}
	for k, v := range e.Details {
		if k == "code" || k == "message" {
			continue
		}
		body[k] = v
	}

	c.AbortWithStatusJSON(e.Kind.Status(), gin.H{
		"success":   false,
		"error":     body,
		"requestID": requestID,
	})
}

// Bind binds the request body into dst and reports a classified error on failure
func Bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBind(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			Error(c, err)
		} else {
			Error(c, apperr.BadRequest("Invalid request body").Wrap(err))
		}
		return false
	}

	return true
}

const maxLimit = 100

// PageParams reads page and limit from the query string. Missing or invalid
// values fall back to page 1 and defLimit, and limit is capped.
func PageParams(c *gin.Context, defLimit int) (page, limit, offset int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err = strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = defLimit
	}
	limit = min(limit, maxLimit)

	return page, limit, (page - 1) * limit
}
