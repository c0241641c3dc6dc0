package service

import (
	"context"
	"time"

	"bitwise74/school-api/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountCleanup deletes self-registered accounts that never verified their
// email before their expiry. Profiles, tokens and resend counters go with
// them through the cascades.
func AccountCleanup(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var ids []string

	err := db.WithContext(ctx).
		Model(&model.User{}).
		Where("verified = ? AND expires_at IS NOT NULL AND expires_at < ?", false, now).
		Pluck("id", &ids).
		Error
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// sqlite only cascades with foreign keys on, so clear children explicitly
		for _, m := range []any{&model.Profile{}, &model.VerificationToken{}, &model.ResendRequest{}} {
			if err := tx.Where("user_id IN ?", ids).Delete(m).Error; err != nil {
				return err
			}
		}

		res := tx.Where("id IN ?", ids).Delete(&model.User{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}

	zap.L().Debug("Account cleanup finished", zap.Int64("deleted", deleted))
	return deleted, nil
}
