package model

type Student struct {
	Meta
	AdmissionNumber string `gorm:"uniqueIndex;size:50;not null" json:"admission_number"`
	Grade           string `gorm:"size:20;not null;index:idx_students_class" json:"grade"`
	Section         string `gorm:"size:10;not null;index:idx_students_class" json:"section"`
	RollNumber      int    `json:"roll_number"`
	// The student's own login, if they have one
	UserID *string `gorm:"size:32;index" json:"user_id,omitempty"`
	// Parent account the student is a dependent of
	ParentID *string `gorm:"size:32;index" json:"parent_id,omitempty"`

	User   *User `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"user,omitempty"`
	Parent *User `gorm:"foreignKey:ParentID;constraint:OnDelete:SET NULL" json:"parent,omitempty"`
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceHalfDay AttendanceStatus = "half-day"
)

// Attendance is one student's status for one calendar day. The unique index
// on (student_id, date) rejects double marking even under concurrent requests.
type Attendance struct {
	Meta
	StudentID  string           `gorm:"size:32;not null;uniqueIndex:idx_attendance_student_date" json:"student_id"`
	Date       string           `gorm:"size:10;not null;uniqueIndex:idx_attendance_student_date;index" json:"date"`
	Status     AttendanceStatus `gorm:"size:16;not null" json:"status"`
	Reason     string           `json:"reason,omitempty"`
	RecordedBy string           `gorm:"size:32;not null" json:"recorded_by"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}

// AttendanceStats summarises a set of attendance records
type AttendanceStats struct {
	TotalDays   int64 `json:"totalDays"`
	PresentDays int64 `json:"presentDays"`
	Percentage  int64 `json:"percentage"`
}

func NewAttendanceStats(total, present int64) AttendanceStats {
	s := AttendanceStats{TotalDays: total, PresentDays: present}
	if total > 0 {
		// round half up
		s.Percentage = (present*200 + total) / (total * 2)
	}

	return s
}
