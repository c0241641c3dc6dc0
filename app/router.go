// Package app wires the HTTP API together
package app

import (
	"context"
	"fmt"
	"time"

	"bitwise74/school-api/app/attendance"
	"bitwise74/school-api/app/auth"
	"bitwise74/school-api/app/circular"
	"bitwise74/school-api/app/fee"
	"bitwise74/school-api/app/homework"
	"bitwise74/school-api/app/root"
	"bitwise74/school-api/app/student"
	"bitwise74/school-api/app/timetable"
	"bitwise74/school-api/app/user"
	"bitwise74/school-api/db"
	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/internal/storage"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/security"
	"bitwise74/school-api/pkg/validators"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var store = persist.NewMemoryStore(time.Minute)

// NewRouter builds every dependency from the loaded config and returns the
// API along with a function that stops the background workers
func NewRouter() (*gin.Engine, func(), error) {
	if err := makeLogger(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger, %w", err)
	}

	conn, err := db.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	tokens, err := security.NewTokenServiceFromConfig()
	if err != nil {
		return nil, nil, err
	}

	mailer, err := service.NewMailer()
	if err != nil {
		return nil, nil, err
	}

	processor, err := service.NewPaymentProcessor()
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	objects, err := storage.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize object storage, %w", err)
	}

	scheduler, err := service.NewScheduler(conn)
	if err != nil {
		return nil, nil, err
	}

	queue := service.NewMailQueue(mailer, v.GetInt("mail.workers"), v.GetInt("mail.queue_size"))

	d := &internal.Deps{
		DB:       conn,
		Argon:    security.NewArgon2idHasher(),
		Tokens:   tokens,
		Gate:     middleware.NewGate(conn, tokens),
		Ledger:   service.NewFeeLedger(conn, processor, v.GetDuration("payment.timeout")),
		Store:    objects,
		Uploader: service.NewUploader(objects),
		Mail:     queue,
		Notifier: service.NewNotifier(conn, queue),
	}

	router, closeEngine, err := NewEngine(d)
	if err != nil {
		return nil, nil, err
	}

	queue.StartWorkerPool()
	scheduler.Start()

	stop := func() {
		scheduler.Stop()
		queue.Stop()
		closeEngine()
	}

	return router, stop, nil
}

// NewEngine registers every route against d. The returned function releases
// the rate limiters and must be called once the engine is no longer served.
func NewEngine(d *internal.Deps) (*gin.Engine, func(), error) {
	if err := validators.RegisterBindings(); err != nil {
		return nil, nil, fmt.Errorf("failed to register validators, %w", err)
	}

	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     v.GetStringSlice("host.cors_origins"),
			AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "TurnstileToken", fee.IdempotencyHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		middleware.Metrics(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if id := c.GetString("requestID"); id != "" {
					fields = append(fields, zap.String("request_id", id))
				}

				if id := c.GetString("userID"); id != "" {
					fields = append(fields, zap.String("user_id", id))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.MaxMultipartMemory = 8 << 20

	window := v.GetDuration("security.rate_limit.window")
	apiLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Requests: v.GetInt("security.rate_limit.api"),
		Window:   window,
	})
	authLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Requests: v.GetInt("security.rate_limit.auth"),
		Window:   window,
		Message:  "Too many authentication attempts, please try again later",
	})

	closeLimiters := func() {
		for _, l := range []*middleware.RateLimiter{apiLimiter, authLimiter} {
			if err := l.Close(); err != nil {
				zap.L().Warn("Failed to stop rate limiter", zap.Error(err))
			}
		}
	}

	gate := d.Gate.Handler()
	turnstile := middleware.NewTurnstileMiddleware()
	jsonLimit := middleware.BodySizeLimiter(1 << 20)
	uploadLimit := middleware.BodySizeLimiter(v.GetInt64("upload.max_size")*validators.MaxAttachments + 1<<20)

	// GET /metrics		-> Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	m := router.Group("/api")
	{
		// GET /api/health		-> Reports server and database health
		m.GET("/health", func(c *gin.Context) { root.Health(c, d) })

		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", root.Heartbeat)
	}

	api := m.Group("/v1", apiLimiter.Handler(), jsonLimit)

	a := api.Group("/auth", authLimiter.Handler())
	{
		// POST /api/v1/auth/register			-> Registers a new account and mails a verification link
		a.POST("/register", turnstile, func(c *gin.Context) { auth.Register(c, d) })

		// POST /api/v1/auth/login			-> Logs in and returns a session
		a.POST("/login", func(c *gin.Context) { auth.Login(c, d) })

		// POST /api/v1/auth/refresh-tokens		-> Trades a refresh token for a new session
		a.POST("/refresh-tokens", func(c *gin.Context) { auth.RefreshTokens(c, d) })

		// POST /api/v1/auth/forgot-password		-> Mails a password reset link
		a.POST("/forgot-password", turnstile, func(c *gin.Context) { auth.ForgotPassword(c, d) })

		// POST /api/v1/auth/reset-password		-> Sets a new password with a reset token
		a.POST("/reset-password", func(c *gin.Context) { auth.ResetPassword(c, d) })

		// POST /api/v1/auth/send-verification-email	-> Re-sends the verification mail
		a.POST("/send-verification-email", func(c *gin.Context) { auth.SendVerificationEmail(c, d) })

		// POST /api/v1/auth/verify-email		-> Verifies an email address
		a.POST("/verify-email", func(c *gin.Context) { auth.VerifyEmail(c, d) })

		// POST /api/v1/auth/logout			-> Clears the session cookie
		a.POST("/logout", gate, auth.Logout)
	}

	u := api.Group("/users")
	{
		// POST /api/v1/users/me/verification		-> Re-sends the verification mail to the caller
		u.POST("/me/verification", d.Gate.AllowUnverified(), func(c *gin.Context) { user.RequestVerification(c, d) })

		// GET /api/v1/users/me/profile		-> Returns the caller's account
		u.GET("/me/profile", gate, func(c *gin.Context) { user.ProfileFetch(c, d) })

		// PATCH /api/v1/users/me/profile		-> Updates the caller's profile
		u.PATCH("/me/profile", gate, func(c *gin.Context) { user.ProfileEdit(c, d) })

		// PATCH /api/v1/users/me/change-password	-> Changes the caller's password
		u.PATCH("/me/change-password", gate, func(c *gin.Context) { user.ChangePassword(c, d) })

		admins := u.Group("", gate, middleware.RequireRoles(model.RoleAdmin))

		// GET /api/v1/users				-> Searches users
		admins.GET("", func(c *gin.Context) { user.UserList(c, d) })

		// GET /api/v1/users/:id			-> Returns a user
		admins.GET("/:id", func(c *gin.Context) { user.UserFetch(c, d) })

		// PATCH /api/v1/users/:id			-> Updates a user
		admins.PATCH("/:id", func(c *gin.Context) { user.UserEdit(c, d) })

		// DELETE /api/v1/users/:id			-> Deletes a user
		admins.DELETE("/:id", func(c *gin.Context) { user.UserDelete(c, d) })
	}

	s := api.Group("/students", gate)
	{
		// GET /api/v1/students			-> Lists students of a class
		s.GET("", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { student.StudentList(c, d) })

		// POST /api/v1/students			-> Creates a student and their login
		s.POST("", middleware.RequireRoles(model.RoleAdmin), func(c *gin.Context) { student.StudentCreate(c, d) })

		// GET /api/v1/students/:studentId		-> Returns a student
		s.GET("/:studentId", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher, model.RoleParent), func(c *gin.Context) { student.StudentFetch(c, d) })

		// PATCH /api/v1/students/:studentId		-> Updates a student
		s.PATCH("/:studentId", middleware.RequireRoles(model.RoleAdmin), func(c *gin.Context) { student.StudentEdit(c, d) })

		// DELETE /api/v1/students/:studentId		-> Deletes a student
		s.DELETE("/:studentId", middleware.RequireRoles(model.RoleAdmin), func(c *gin.Context) { student.StudentDelete(c, d) })

		// GET /api/v1/students/:studentId/fees	-> Lists a student's fees
		s.GET("/:studentId/fees", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher, model.RoleParent), func(c *gin.Context) { fee.FeesForStudent(c, d) })

		// GET /api/v1/students/:studentId/attendance	-> Lists a student's attendance with stats
		s.GET("/:studentId/attendance", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher, model.RoleParent), func(c *gin.Context) { attendance.AttendanceForStudent(c, d) })

		// GET /api/v1/students/:studentId/homework	-> Lists a student's homework and submissions
		s.GET("/:studentId/homework", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher, model.RoleParent, model.RoleStudent), func(c *gin.Context) { homework.HomeworkForStudent(c, d) })
	}

	at := api.Group("/attendance", gate)
	{
		// POST /api/v1/attendance			-> Marks a student's attendance for a day
		at.POST("", middleware.RequireRoles(model.RoleTeacher, model.RoleAdmin), func(c *gin.Context) { attendance.AttendanceMark(c, d) })

		// PATCH /api/v1/attendance/:id		-> Changes an attendance record
		at.PATCH("/:id", middleware.RequireRoles(model.RoleTeacher, model.RoleAdmin), func(c *gin.Context) { attendance.AttendanceEdit(c, d) })

		// GET /api/v1/attendance/student/:studentId	-> Lists a student's attendance
		at.GET("/student/:studentId", middleware.RequireRoles(model.RoleTeacher, model.RoleAdmin, model.RoleParent), func(c *gin.Context) { attendance.AttendanceForStudent(c, d) })

		// GET /api/v1/attendance			-> Lists the calling student's attendance
		at.GET("", middleware.RequireRoles(model.RoleStudent), func(c *gin.Context) { attendance.AttendanceOwn(c, d) })

		// GET /api/v1/attendance/class/:grade/:section	-> Returns a class roster for a day
		at.GET("/class/:grade/:section", middleware.RequireRoles(model.RoleTeacher, model.RoleAdmin), func(c *gin.Context) { attendance.AttendanceClass(c, d) })
	}

	f := api.Group("/fees", gate)
	{
		structures := f.Group("/structures", middleware.RequireRoles(model.RoleAdmin))

		// GET /api/v1/fees/structures			-> Lists fee structures
		structures.GET("", func(c *gin.Context) { fee.StructureList(c, d) })

		// POST /api/v1/fees/structures		-> Creates a fee structure
		structures.POST("", func(c *gin.Context) { fee.StructureCreate(c, d) })

		// PATCH /api/v1/fees/structures/:id		-> Updates a fee structure
		structures.PATCH("/:id", func(c *gin.Context) { fee.StructureEdit(c, d) })

		// DELETE /api/v1/fees/structures/:id		-> Deletes an unassigned fee structure
		structures.DELETE("/:id", func(c *gin.Context) { fee.StructureDelete(c, d) })

		// POST /api/v1/fees/structures/:id/assign	-> Assigns a fee structure to students
		structures.POST("/:id/assign", func(c *gin.Context) { fee.FeeAssign(c, d) })

		// GET /api/v1/fees/student/:studentId		-> Lists a student's fees
		f.GET("/student/:studentId", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher, model.RoleParent), func(c *gin.Context) { fee.FeesForStudent(c, d) })

		// POST /api/v1/fees/:feeId/pay		-> Pays towards a fee
		f.POST("/:feeId/pay", middleware.RequireRoles(model.RoleParent), func(c *gin.Context) { fee.FeePay(c, d) })

		// GET /api/v1/fees/receipt/:paymentId		-> Returns a payment receipt
		f.GET("/receipt/:paymentId", middleware.RequireRoles(model.RoleAdmin, model.RoleParent), func(c *gin.Context) { fee.FeeReceipt(c, d) })
	}

	// Multipart bodies carry attachments and get their own limit
	hw := m.Group("/v1/homework", apiLimiter.Handler(), gate)
	{
		// POST /api/v1/homework			-> Assigns homework with attachments
		hw.POST("", uploadLimit, middleware.RequireRoles(model.RoleTeacher), func(c *gin.Context) { homework.HomeworkCreate(c, d) })

		// GET /api/v1/homework			-> Lists homework
		hw.GET("", middleware.RequireRoles(model.RoleTeacher, model.RoleStudent), func(c *gin.Context) { homework.HomeworkList(c, d) })

		// DELETE /api/v1/homework/:id			-> Deletes the caller's homework
		hw.DELETE("/:id", middleware.RequireRoles(model.RoleTeacher), func(c *gin.Context) { homework.HomeworkDelete(c, d) })

		// POST /api/v1/homework/:id/submit		-> Hands in homework
		hw.POST("/:id/submit", uploadLimit, middleware.RequireRoles(model.RoleStudent), func(c *gin.Context) { homework.HomeworkSubmit(c, d) })

		// GET /api/v1/homework/submissions		-> Lists submissions to the caller's homework
		hw.GET("/submissions", middleware.RequireRoles(model.RoleTeacher), func(c *gin.Context) { homework.SubmissionList(c, d) })

		// PATCH /api/v1/homework/submissions/:id/grade	-> Grades a submission
		hw.PATCH("/submissions/:id/grade", jsonLimit, middleware.RequireRoles(model.RoleTeacher), func(c *gin.Context) { homework.SubmissionGrade(c, d) })
	}

	cr := api.Group("/circulars", gate)
	{
		// POST /api/v1/circulars			-> Publishes a circular
		cr.POST("", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { circular.CircularCreate(c, d) })

		// PATCH /api/v1/circulars/:id			-> Updates a circular
		cr.PATCH("/:id", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { circular.CircularEdit(c, d) })

		// DELETE /api/v1/circulars/:id		-> Deletes a circular
		cr.DELETE("/:id", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { circular.CircularDelete(c, d) })

		// GET /api/v1/circulars			-> Lists circulars
		cr.GET("", func(c *gin.Context) { circular.CircularList(c, d) })

		// GET /api/v1/circulars/:id			-> Returns a circular and marks it read
		cr.GET("/:id", func(c *gin.Context) { circular.CircularFetch(c, d) })

		// POST /api/v1/circulars/:id/read		-> Marks a circular as read
		cr.POST("/:id/read", func(c *gin.Context) { circular.CircularRead(c, d) })
	}

	t := api.Group("/timetable", gate)
	{
		// PUT /api/v1/timetable/class/:grade/:section		-> Replaces a class timetable
		t.PUT("/class/:grade/:section", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { timetable.TimetableReplace(c, d) })

		// GET /api/v1/timetable/class/:grade/:section		-> Returns a class timetable
		t.GET("/class/:grade/:section", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), cacheFor(30), func(c *gin.Context) { timetable.TimetableClass(c, d) })

		// GET /api/v1/timetable/class/:grade/:section/current	-> Returns the current period of a class
		t.GET("/class/:grade/:section/current", func(c *gin.Context) { timetable.TimetableCurrent(c, d) })

		// GET /api/v1/timetable/teacher/:teacherId		-> Returns a teacher's timetable
		t.GET("/teacher/:teacherId", middleware.RequireRoles(model.RoleAdmin, model.RoleTeacher), func(c *gin.Context) { timetable.TimetableTeacher(c, d) })

		// GET /api/v1/timetable/student			-> Returns the calling student's timetable
		t.GET("/student", middleware.RequireRoles(model.RoleStudent), func(c *gin.Context) { timetable.TimetableStudent(c, d) })
	}

	return router, closeLimiters, nil
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}
