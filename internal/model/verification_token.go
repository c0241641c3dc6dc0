package model

import "time"

type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// VerificationToken tracks a single purpose token by its jti so it can only
// be redeemed once. The token itself is never stored.
type VerificationToken struct {
	ID        string       `gorm:"primaryKey;size:64"`
	UserID    string       `gorm:"size:32;index;not null"`
	Purpose   TokenPurpose `gorm:"size:32;not null"`
	ExpiresAt time.Time    `gorm:"index"`
	UsedAt    *time.Time
	CreatedAt time.Time
	Used      bool
}
