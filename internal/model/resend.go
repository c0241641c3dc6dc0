package model

import (
	"errors"
	"time"
)

const (
	resendCooldown  = time.Minute
	resendDailyMax  = 5
	resendWindowLen = 24 * time.Hour
)

var (
	ErrResendCooldown = errors.New("please wait before requesting another email")
	ErrResendBlocked  = errors.New("too many emails requested, try again tomorrow")
)

// ResendRequest throttles how often verification mail can be re-sent to a user
type ResendRequest struct {
	UserID       string `gorm:"primaryKey;size:32"`
	LastResend   time.Time
	WindowStart  time.Time
	Count        int
	BlockedUntil *time.Time
}

// Register records a resend attempt at now, or returns why it isn't allowed
func (r *ResendRequest) Register(now time.Time) error {
	if r.BlockedUntil != nil && now.Before(*r.BlockedUntil) {
		return ErrResendBlocked
	}

	if !r.LastResend.IsZero() && now.Sub(r.LastResend) < resendCooldown {
		return ErrResendCooldown
	}

	if r.WindowStart.IsZero() || now.Sub(r.WindowStart) >= resendWindowLen {
		r.WindowStart = now
		r.Count = 0
		r.BlockedUntil = nil
	}

	r.Count++
	r.LastResend = now

	if r.Count >= resendDailyMax {
		until := r.WindowStart.Add(resendWindowLen)
		r.BlockedUntil = &until
	}

	return nil
}
