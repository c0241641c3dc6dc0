package model

import "time"

type Homework struct {
	Meta
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Subject     string    `gorm:"size:100;not null;index" json:"subject"`
	Class       string    `gorm:"size:20;not null;index" json:"class"`
	TeacherID   string    `gorm:"size:32;not null;index" json:"teacher_id"`
	DueDate     time.Time `gorm:"not null" json:"due_date"`

	Teacher     *User                `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`
	Attachments []HomeworkAttachment `gorm:"foreignKey:HomeworkID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Submissions []HomeworkSubmission `gorm:"foreignKey:HomeworkID;constraint:OnDelete:CASCADE" json:"submissions,omitempty"`
}

type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionLate      SubmissionStatus = "late"
	SubmissionGraded    SubmissionStatus = "graded"
)

type HomeworkSubmission struct {
	Meta
	HomeworkID     string           `gorm:"size:32;not null;uniqueIndex:idx_submission_student" json:"homework_id"`
	StudentID      string           `gorm:"size:32;not null;uniqueIndex:idx_submission_student;index" json:"student_id"`
	SubmissionText string           `gorm:"type:text" json:"submission_text,omitempty"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Grade          *string          `gorm:"size:10" json:"grade,omitempty"`
	Feedback       string           `json:"feedback,omitempty"`
	Status         SubmissionStatus `gorm:"size:16;not null" json:"status"`

	Homework    *Homework            `gorm:"foreignKey:HomeworkID" json:"homework,omitempty"`
	Student     *Student             `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
	Attachments []HomeworkAttachment `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// SubmissionStatusAt is the status a submission made at t gets
func (h *Homework) SubmissionStatusAt(t time.Time) SubmissionStatus {
	if t.After(h.DueDate) {
		return SubmissionLate
	}

	return SubmissionSubmitted
}

// HomeworkAttachment belongs either to a homework or to a submission
type HomeworkAttachment struct {
	Meta
	HomeworkID   *string `gorm:"size:32;index" json:"homework_id,omitempty"`
	SubmissionID *string `gorm:"size:32;index" json:"submission_id,omitempty"`
	FileURL      string  `gorm:"not null" json:"file_url"`
	FileKey      string  `gorm:"size:255" json:"-"`
	FileName     string  `gorm:"size:255" json:"file_name"`
	FileType     string  `gorm:"size:100" json:"file_type"`
	FileSize     int64   `json:"file_size"`
}
