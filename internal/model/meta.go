// Package model defines database models
package model

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

const (
	idCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength  = 16

	// DateLayout is the format used for calendar dates (attendance days, due dates)
	DateLayout = "2006-01-02"
)

// Meta holds the columns every entity shares. Embed it instead of
// redeclaring ids and timestamps.
type Meta struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an ID to entities created without one
func (m *Meta) BeforeCreate(tx *gorm.DB) error {
	if m.ID != "" {
		return nil
	}

	id, err := NewID()
	if err != nil {
		return err
	}

	m.ID = id
	return nil
}

func NewID() (string, error) {
	return gonanoid.Generate(idCharset, idLength)
}

// Today returns the calendar date of t in DateLayout
func Today(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
