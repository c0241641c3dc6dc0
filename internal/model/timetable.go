package model

// TimetableEntry is one period of one class on one weekday. DayOfWeek runs
// from 0 (Sunday) to 6, times are HH:MM.
type TimetableEntry struct {
	Meta
	Grade     string `gorm:"size:20;not null;index:idx_timetable_class" json:"grade"`
	Section   string `gorm:"size:10;not null;index:idx_timetable_class" json:"section"`
	DayOfWeek int    `gorm:"not null" json:"day_of_week"`
	Period    int    `gorm:"not null" json:"period"`
	Subject   string `gorm:"size:100;not null" json:"subject"`
	TeacherID string `gorm:"size:32;not null;index" json:"teacher_id"`
	Room      string `gorm:"size:20" json:"room_number,omitempty"`
	StartTime string `gorm:"size:5;not null" json:"start_time"`
	EndTime   string `gorm:"size:5;not null" json:"end_time"`

	Teacher *User `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`
}

func (TimetableEntry) TableName() string {
	return "timetables"
}

// GroupByDay groups entries by weekday, keeping their order
func GroupByDay(entries []TimetableEntry) map[int][]TimetableEntry {
	out := make(map[int][]TimetableEntry)
	for _, e := range entries {
		out[e.DayOfWeek] = append(out[e.DayOfWeek], e)
	}

	return out
}
