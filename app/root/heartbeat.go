package root

import (
	"context"
	"net/http"
	"time"

	"bitwise74/school-api/internal"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Heartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Health reports whether the server can reach its database
func Health(c *gin.Context, d *internal.Deps) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK

	sqlDB, err := d.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		zap.L().Error("Database health check failed", zap.Error(err), zap.String("requestID", c.GetString("requestID")))
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"success":   status == http.StatusOK,
		"status":    http.StatusText(status),
		"database":  dbStatus,
		"mailQueue": d.Mail.Pending(),
		"timestamp": time.Now().UTC(),
	})
}
