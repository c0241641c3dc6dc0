package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodySizeLimiter caps the request body at maxBytes
func BodySizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fast reject for honest clients
		if c.Request.ContentLength > maxBytes {
			tooLarge(c)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()

		var mbe *http.MaxBytesError
		if last := c.Errors.Last(); last != nil && errors.As(last.Err, &mbe) && !c.Writer.Written() {
			tooLarge(c)
		}
	}
}

func tooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"success": false,
		"error": gin.H{
			"code":    http.StatusRequestEntityTooLarge,
			"message": "Request body size exceeds limit",
		},
		"requestID": c.GetString("requestID"),
	})
}
