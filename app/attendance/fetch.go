package attendance

import (
	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
)

func list(c *gin.Context, d *internal.Deps, studentID string) {
	page, limit, offset := respond.PageParams(c, 30)

	if err := validators.DateRange(c.Query("from"), c.Query("to")); err != nil {
		respond.Error(c, apperr.BadRequest(err.Error()))
		return
	}

	records, total, stats, err := service.StudentAttendance(c.Request.Context(), d.DB, studentID, service.AttendanceFilter{
		From:   c.Query("from"),
		To:     c.Query("to"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.List(c, records, gin.H{
		"stats":      stats,
		"pagination": respond.NewPagination(page, limit, total),
	})
}

// AttendanceForStudent lists a student's attendance with stats. Parents are
// limited to their own children.
func AttendanceForStudent(c *gin.Context, d *internal.Deps) {
	s, err := access.ScopeStudent(c.Request.Context(), d.DB, middleware.MustIdentity(c), c.Param("studentId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	list(c, d, s.ID)
}

// AttendanceOwn lists the calling student's attendance
func AttendanceOwn(c *gin.Context, d *internal.Deps) {
	s, err := access.StudentOf(c.Request.Context(), d.DB, middleware.MustIdentity(c).ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	list(c, d, s.ID)
}

type rosterEntry struct {
	Student    model.Student     `json:"student"`
	Attendance *model.Attendance `json:"attendance"`
}

// AttendanceClass returns a class roster with each student's attendance on
// the given date, today by default
func AttendanceClass(c *gin.Context, d *internal.Deps) {
	date := c.DefaultQuery("date", model.Today(d.Tokens.Now()))
	if !validators.IsDate(date) {
		respond.Error(c, apperr.BadRequest("date must be in YYYY-MM-DD format"))
		return
	}

	db := d.DB.WithContext(c.Request.Context())

	var students []model.Student
	err := db.Preload("User.Profile").
		Where("grade = ? AND section = ?", c.Param("grade"), c.Param("section")).
		Order("roll_number ASC").
		Find(&students).Error
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	ids := make([]string, len(students))
	for i, s := range students {
		ids[i] = s.ID
	}

	var records []model.Attendance
	if len(ids) > 0 {
		if err := db.Where("date = ? AND student_id IN ?", date, ids).Find(&records).Error; err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
	}

	byStudent := make(map[string]*model.Attendance, len(records))
	for i := range records {
		byStudent[records[i].StudentID] = &records[i]
	}

	roster := make([]rosterEntry, len(students))
	for i, s := range students {
		roster[i] = rosterEntry{Student: s, Attendance: byStudent[s.ID]}
	}

	respond.List(c, roster, gin.H{"date": date})
}
