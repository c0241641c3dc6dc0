package model

import "time"

type User struct {
	Meta
	Email             string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash      string     `gorm:"not null" json:"-"`
	Role              Role       `gorm:"size:16;not null;index" json:"role"`
	Verified          bool       `gorm:"default:false" json:"is_verified"`
	PasswordChangedAt *time.Time `json:"-"`
	// Set for self-registered accounts until they verify; unverified accounts
	// past this point are removed by the account cleanup job
	ExpiresAt *time.Time `json:"-"`

	Profile            *Profile            `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"profile,omitempty"`
	VerificationTokens []VerificationToken `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	ResendRequest      *ResendRequest      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TokenStale reports whether a token issued at iat predates the last password
// change. Both sides are compared at second precision, the precision of iat.
func (u *User) TokenStale(iat time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}

	return iat.Unix() < u.PasswordChangedAt.Unix()
}

type Profile struct {
	Meta
	UserID      string  `gorm:"uniqueIndex;size:32;not null" json:"-"`
	FirstName   string  `gorm:"size:100" json:"first_name"`
	LastName    string  `gorm:"size:100" json:"last_name"`
	Phone       string  `gorm:"size:20" json:"phone,omitempty"`
	Address     string  `json:"address,omitempty"`
	DateOfBirth *string `gorm:"size:10" json:"date_of_birth,omitempty"`
	PictureURL  string  `json:"profile_picture,omitempty"`
}
