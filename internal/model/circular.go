package model

import "time"

type Circular struct {
	Meta
	Title       string  `gorm:"size:200;not null" json:"title"`
	Content     string  `gorm:"type:text;not null" json:"content"`
	IsImportant bool    `gorm:"default:false;index" json:"is_important"`
	StartDate   *string `gorm:"size:10" json:"start_date,omitempty"`
	EndDate     *string `gorm:"size:10" json:"end_date,omitempty"`
	AuthorID    string  `gorm:"size:32;not null;index" json:"author_id"`

	Author     *User               `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Recipients []CircularRecipient `gorm:"foreignKey:CircularID;constraint:OnDelete:CASCADE" json:"recipients,omitempty"`
}

type CircularRecipient struct {
	Meta
	CircularID string     `gorm:"size:32;not null;uniqueIndex:idx_circular_recipient" json:"circular_id"`
	UserID     string     `gorm:"size:32;not null;uniqueIndex:idx_circular_recipient;index" json:"user_id"`
	ReadAt     *time.Time `json:"read_at,omitempty"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}
