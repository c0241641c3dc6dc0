package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/internal/storage"
	"bitwise74/school-api/internal/testutil"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	deps   *internal.Deps
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	viper.Set("app.env", "test")
	viper.Set("jwt.verify_ttl", "24h")
	viper.Set("jwt.reset_ttl", "10m")
	viper.Set("auth.unverified_ttl", "168h")
	t.Cleanup(viper.Reset)

	c := &clock{t: time.Now().UTC().Truncate(time.Second)}
	tokens := security.NewTokenService(security.TokenConfig{
		Method:  jwt.SigningMethodHS256,
		SignKey: []byte("test"),
		Now:     c.now,
	})

	db := testutil.NewDB(t)
	queue := service.NewMailQueue(service.LogMailer{}, 1, 50)
	queue.StartWorkerPool()
	t.Cleanup(queue.Stop)

	d := &internal.Deps{
		DB:       db,
		Argon:    security.NewArgon2idHasher(),
		Tokens:   tokens,
		Gate:     middleware.NewGate(db, tokens),
		Ledger:   service.NewFeeLedger(db, service.SandboxProcessor{}, time.Second),
		Store:    storage.Disabled{},
		Uploader: service.NewUploader(storage.Disabled{}),
		Mail:     queue,
		Notifier: service.NewNotifier(db, queue),
	}

	router, closeEngine, err := NewEngine(d)
	require.NoError(t, err)
	t.Cleanup(closeEngine)

	return &harness{t: t, router: router, db: db, deps: d, clock: c}
}

type reply struct {
	Code int
	Body map[string]any
}

func (r reply) data() map[string]any {
	m, _ := r.Body["data"].(map[string]any)
	return m
}

func (r reply) errorMessage() string {
	e, _ := r.Body["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func (h *harness) do(method, path, token string, body any, headers ...string) reply {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	r := reply{Code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &r.Body), w.Body.String())
	}

	return r
}

func (h *harness) token(u *model.User) string {
	h.t.Helper()

	s, err := h.deps.Tokens.IssueSession(u)
	require.NoError(h.t, err)
	return s.Access.Token
}

func (h *harness) user(email string, role model.Role) (*model.User, string) {
	h.t.Helper()

	u := testutil.CreateUser(h.t, h.db, email, role)
	return u, h.token(u)
}

func TestHeartbeatAndHealth(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodHead, "/api/heartbeat", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	res := h.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRegisterVerifyLogin(t *testing.T) {
	h := newHarness(t)

	res := h.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email":     "Parent@School.test",
		"password":  testutil.Password,
		"role":      "parent",
		"firstName": "Pat",
		"lastName":  "Doe",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	u, _ := res.data()["user"].(map[string]any)
	assert.Equal(t, "parent@school.test", u["email"])
	assert.Equal(t, false, u["is_verified"])

	res = h.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "parent@school.test", "password": testutil.Password, "role": "parent", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Email already taken", res.errorMessage())

	login := gin.H{"email": "parent@school.test", "password": testutil.Password}

	res = h.do(http.MethodPost, "/api/v1/auth/login", "", login)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Please verify your email first", res.errorMessage())

	var user model.User
	require.NoError(t, h.db.First(&user, "email = ?", "parent@school.test").Error)

	raw, row, err := h.deps.Tokens.MakeVerificationToken(&security.VerificationTokenOpts{
		UserID:  user.ID,
		Email:   user.Email,
		Purpose: model.PurposeEmailVerify,
		TTL:     time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, h.db.Create(row).Error)

	res = h.do(http.MethodPost, "/api/v1/auth/verify-email", "", gin.H{"token": raw})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	// a token only works once
	res = h.do(http.MethodPost, "/api/v1/auth/verify-email", "", gin.H{"token": raw})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "parent@school.test", "password": "Wrong123!"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Incorrect email or password", res.errorMessage())

	res = h.do(http.MethodPost, "/api/v1/auth/login", "", login)
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	tokens, _ := res.data()["tokens"].(map[string]any)
	access, _ := tokens["access"].(map[string]any)
	assert.NotEmpty(t, access["token"])
}

func TestAdminSelfRegistration(t *testing.T) {
	h := newHarness(t)

	body := func(email string) gin.H {
		return gin.H{"email": email, "password": testutil.Password, "role": "admin", "firstName": "A", "lastName": "B"}
	}

	res := h.do(http.MethodPost, "/api/v1/auth/register", "", body("first@school.test"))
	assert.Equal(t, http.StatusCreated, res.Code)

	res = h.do(http.MethodPost, "/api/v1/auth/register", "", body("second@school.test"))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestChangePasswordInvalidatesOldTokens(t *testing.T) {
	h := newHarness(t)
	_, old := h.user("teacher@school.test", model.RoleTeacher)

	res := h.do(http.MethodGet, "/api/v1/users/me/profile", old, nil)
	require.Equal(t, http.StatusOK, res.Code)

	h.clock.t = h.clock.t.Add(2 * time.Second)

	res = h.do(http.MethodPatch, "/api/v1/users/me/change-password", old, gin.H{
		"currentPassword": "nope",
		"newPassword":     "Another123!",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(http.MethodPatch, "/api/v1/users/me/change-password", old, gin.H{
		"currentPassword": testutil.Password,
		"newPassword":     "Another123!",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	tokens, _ := res.data()["tokens"].(map[string]any)
	access, _ := tokens["access"].(map[string]any)
	fresh, _ := access["token"].(string)

	res = h.do(http.MethodGet, "/api/v1/users/me/profile", old, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(http.MethodGet, "/api/v1/users/me/profile", fresh, nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRoleGates(t *testing.T) {
	h := newHarness(t)
	_, parent := h.user("parent@school.test", model.RoleParent)

	res := h.do(http.MethodGet, "/api/v1/users", parent, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestDuplicateAttendance(t *testing.T) {
	h := newHarness(t)
	_, teacher := h.user("teacher@school.test", model.RoleTeacher)
	s := testutil.CreateStudent(t, h.db, "ADM-1", "5", "A", nil, nil)

	body := gin.H{"studentId": s.ID, "date": "2025-03-10", "status": "present"}

	res := h.do(http.MethodPost, "/api/v1/attendance", teacher, body)
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = h.do(http.MethodPost, "/api/v1/attendance", teacher, body)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Attendance already marked for this date", res.errorMessage())

	var n int64
	require.NoError(t, h.db.Model(&model.Attendance{}).Where("student_id = ?", s.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	res = h.do(http.MethodGet, "/api/v1/attendance/student/"+s.ID+"?from=2025-03-01&to=2025-03-31", teacher, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.NotNil(t, res.Body["stats"])

	res = h.do(http.MethodGet, "/api/v1/attendance/student/"+s.ID+"?from=2025-03-31&to=2025-03-01", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestParentScoping(t *testing.T) {
	h := newHarness(t)
	mine, parent := h.user("parent@school.test", model.RoleParent)
	other, _ := h.user("other@school.test", model.RoleParent)

	child := testutil.CreateStudent(t, h.db, "ADM-1", "5", "A", mine, nil)
	stranger := testutil.CreateStudent(t, h.db, "ADM-2", "5", "A", other, nil)

	res := h.do(http.MethodGet, "/api/v1/students/"+child.ID, parent, nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = h.do(http.MethodGet, "/api/v1/students/"+stranger.ID, parent, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(http.MethodGet, "/api/v1/fees/student/"+stranger.ID, parent, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestFeePayFlow(t *testing.T) {
	h := newHarness(t)
	_, admin := h.user("admin@school.test", model.RoleAdmin)
	mine, parent := h.user("parent@school.test", model.RoleParent)
	_, stranger := h.user("other@school.test", model.RoleParent)
	child := testutil.CreateStudent(t, h.db, "ADM-1", "5", "A", mine, nil)

	res := h.do(http.MethodPost, "/api/v1/fees/structures", admin, gin.H{
		"name":           "Tuition",
		"amount":         1000,
		"frequency":      "monthly",
		"applicableFrom": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	structureID, _ := res.data()["id"].(string)

	res = h.do(http.MethodPost, "/api/v1/fees/structures/"+structureID+"/assign", admin, gin.H{
		"studentIds": []string{child.ID},
		"dueDate":    "2099-01-31",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	var fee model.StudentFee
	require.NoError(t, h.db.First(&fee, "student_id = ?", child.ID).Error)

	pay := "/api/v1/fees/" + fee.ID + "/pay"

	res = h.do(http.MethodPost, pay, stranger, gin.H{"amount": 100, "paymentMethod": "card"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(http.MethodPost, pay, parent, gin.H{"amount": 5000, "paymentMethod": "card"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(http.MethodPost, pay, parent, gin.H{"amount": 400, "paymentMethod": "card"}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	paid, _ := res.data()["fee"].(map[string]any)
	assert.Equal(t, string(model.FeePartial), paid["status"])

	res = h.do(http.MethodPost, pay, parent, gin.H{"amount": 400, "paymentMethod": "card"}, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusOK, res.Code)

	require.NoError(t, h.db.First(&fee, "id = ?", fee.ID).Error)
	assert.EqualValues(t, 400, fee.PaidAmount)

	res = h.do(http.MethodPost, pay, parent, gin.H{"amount": 600, "paymentMethod": "cash"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	paid, _ = res.data()["fee"].(map[string]any)
	assert.Equal(t, string(model.FeePaid), paid["status"])

	res = h.do(http.MethodDelete, "/api/v1/fees/structures/"+structureID, admin, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestTimetableValidation(t *testing.T) {
	h := newHarness(t)
	_, admin := h.user("admin@school.test", model.RoleAdmin)
	teacher, _ := h.user("teacher@school.test", model.RoleTeacher)

	entry := func(start, end string) gin.H {
		return gin.H{
			"dayOfWeek": 1, "period": 1, "subject": "Maths",
			"teacherId": teacher.ID, "startTime": start, "endTime": end,
		}
	}

	res := h.do(http.MethodPut, "/api/v1/timetable/class/5/A", admin, gin.H{"entries": []gin.H{entry("10:00", "09:00")}})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Start time must be before end time", res.errorMessage())

	res = h.do(http.MethodPut, "/api/v1/timetable/class/5/A", admin, gin.H{"entries": []gin.H{entry("09:00", "09:45"), entry("10:00", "10:45")}})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(http.MethodPut, "/api/v1/timetable/class/5/A", admin, gin.H{"entries": []gin.H{entry("09:00", "09:45")}})
	assert.Equal(t, http.StatusOK, res.Code, res.Body)

	var n int64
	require.NoError(t, h.db.Model(&model.TimetableEntry{}).Where("grade = ? AND section = ?", "5", "A").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCircularRead(t *testing.T) {
	h := newHarness(t)
	_, teacher := h.user("teacher@school.test", model.RoleTeacher)
	reader, readerToken := h.user("parent@school.test", model.RoleParent)
	_, outsider := h.user("outsider@school.test", model.RoleParent)

	res := h.do(http.MethodPost, "/api/v1/circulars", teacher, gin.H{
		"title":        "Sports day",
		"content":      "Friday",
		"recipientIds": []string{reader.ID},
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	id, _ := res.data()["id"].(string)

	res = h.do(http.MethodPost, "/api/v1/circulars/"+id+"/read", readerToken, nil)
	assert.Equal(t, http.StatusOK, res.Code, res.Body)

	var rec model.CircularRecipient
	require.NoError(t, h.db.First(&rec, "circular_id = ? AND user_id = ?", id, reader.ID).Error)
	assert.NotNil(t, rec.ReadAt)

	res = h.do(http.MethodPost, "/api/v1/circulars/"+id+"/read", outsider, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(http.MethodGet, "/api/v1/circulars", outsider, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, res.Body["data"])
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	u, old := h.user("parent@school.test", model.RoleParent)

	res := h.do(http.MethodPost, "/api/v1/auth/forgot-password", "", gin.H{"email": "nobody@school.test"})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(http.MethodPost, "/api/v1/auth/forgot-password", "", gin.H{"email": u.Email})
	assert.Equal(t, http.StatusOK, res.Code, res.Body)

	raw, row, err := h.deps.Tokens.MakeVerificationToken(&security.VerificationTokenOpts{
		UserID:  u.ID,
		Email:   u.Email,
		Purpose: model.PurposePasswordReset,
		TTL:     10 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, h.db.Create(row).Error)

	h.clock.t = h.clock.t.Add(2 * time.Second)

	res = h.do(http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{"token": raw, "newPassword": "Another123!"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = h.do(http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{"token": raw, "newPassword": "Third123!"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(http.MethodGet, "/api/v1/users/me/profile", old, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": u.Email, "password": "Another123!"})
	assert.Equal(t, http.StatusOK, res.Code)
}

func (h *harness) purposeToken(u *model.User, email string, purpose model.TokenPurpose) string {
	h.t.Helper()

	raw, row, err := h.deps.Tokens.MakeVerificationToken(&security.VerificationTokenOpts{
		UserID:  u.ID,
		Email:   email,
		Purpose: purpose,
		TTL:     time.Hour,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, h.db.Create(row).Error)

	return raw
}

func TestEmailChangeRevokesMailedTokens(t *testing.T) {
	h := newHarness(t)
	_, admin := h.user("admin@school.test", model.RoleAdmin)
	u, _ := h.user("parent@school.test", model.RoleParent)

	verify := h.purposeToken(u, u.Email, model.PurposeEmailVerify)
	reset := h.purposeToken(u, u.Email, model.PurposePasswordReset)

	res := h.do(http.MethodPatch, "/api/v1/users/"+u.ID, admin, gin.H{"email": "new@school.test"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = h.do(http.MethodPost, "/api/v1/auth/verify-email", "", gin.H{"token": verify})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{"token": reset, "newPassword": "Another123!"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	var stored model.User
	require.NoError(t, h.db.First(&stored, "id = ?", u.ID).Error)
	assert.Equal(t, "new@school.test", stored.Email)
	assert.False(t, stored.Verified)

	var left int64
	require.NoError(t, h.db.Model(&model.VerificationToken{}).Where("user_id = ?", u.ID).Count(&left).Error)
	assert.Zero(t, left)
}

func TestPurposeTokenForAnotherAddress(t *testing.T) {
	h := newHarness(t)
	u, _ := h.user("parent@school.test", model.RoleParent)
	require.NoError(t, h.db.Model(u).Update("verified", false).Error)

	// the row exists, but the token names an address the account doesn't have
	stale := h.purposeToken(u, "old@school.test", model.PurposeEmailVerify)

	res := h.do(http.MethodPost, "/api/v1/auth/verify-email", "", gin.H{"token": stale})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	var stored model.User
	require.NoError(t, h.db.First(&stored, "id = ?", u.ID).Error)
	assert.False(t, stored.Verified)

	fresh := h.purposeToken(u, u.Email, model.PurposeEmailVerify)
	res = h.do(http.MethodPost, "/api/v1/auth/verify-email", "", gin.H{"token": fresh})
	assert.Equal(t, http.StatusOK, res.Code, res.Body)
}

func TestEngineReleasesRateLimiters(t *testing.T) {
	h := newHarness(t)
	before := runtime.NumGoroutine()

	for range 20 {
		_, closeEngine, err := NewEngine(h.deps)
		require.NoError(t, err)
		closeEngine()
	}

	// each engine runs two limiter janitors until it is closed
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() < before+10
	}, 2*time.Second, 20*time.Millisecond)
}
