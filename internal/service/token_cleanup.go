package service

import (
	"context"
	"time"

	"bitwise74/school-api/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenCleanup deletes single purpose tokens that expired before now. Used
// tokens go too since redeeming them again is rejected anyway.
func TokenCleanup(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&model.VerificationToken{})
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		zap.L().Debug("Cleaned up expired tokens", zap.Int64("count", res.RowsAffected))
	}

	return res.RowsAffected, nil
}
