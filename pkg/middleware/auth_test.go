package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/testutil"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGate(t *testing.T) (*Gate, *security.TokenService, *clock, *gorm.DB) {
	t.Helper()

	c := &clock{t: time.Now().UTC().Truncate(time.Second)}
	tokens := security.NewTokenService(security.TokenConfig{
		Method:  jwt.SigningMethodHS256,
		SignKey: []byte("test"),
		Now:     c.now,
	})

	db := testutil.NewDB(t)
	return NewGate(db, tokens), tokens, c, db
}

func accessToken(t *testing.T, tokens *security.TokenService, u *model.User) string {
	t.Helper()

	s, err := tokens.IssueSession(u)
	require.NoError(t, err)
	return s.Access.Token
}

func TestAuthenticate(t *testing.T) {
	gate, tokens, _, db := newGate(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "teacher@school.test", model.RoleTeacher)

	t.Run("missing token", func(t *testing.T) {
		_, err := gate.Authenticate(ctx, "", false)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
	})

	t.Run("garbled token", func(t *testing.T) {
		_, err := gate.Authenticate(ctx, "not.a.token", false)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
		assert.ErrorIs(t, err, security.ErrInvalidToken)
	})

	t.Run("valid token", func(t *testing.T) {
		id, err := gate.Authenticate(ctx, accessToken(t, tokens, u), false)
		require.NoError(t, err)
		assert.Equal(t, access.Identity{ID: u.ID, Role: model.RoleTeacher, Verified: true}, id)
	})

	t.Run("deleted user", func(t *testing.T) {
		gone := testutil.CreateUser(t, db, "gone@school.test", model.RoleParent)
		token := accessToken(t, tokens, gone)
		require.NoError(t, db.Delete(gone).Error)

		_, err := gate.Authenticate(ctx, token, false)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		s, err := tokens.IssueSession(u)
		require.NoError(t, err)

		_, err = gate.Authenticate(ctx, s.Refresh.Token, false)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
	})
}

func TestAuthenticateExpired(t *testing.T) {
	gate, tokens, c, db := newGate(t)
	u := testutil.CreateUser(t, db, "parent@school.test", model.RoleParent)

	token := accessToken(t, tokens, u)
	c.t = c.t.Add(16 * time.Minute)

	_, err := gate.Authenticate(context.Background(), token, false)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
	assert.ErrorIs(t, err, security.ErrExpiredToken)
}

func TestPasswordChangeInvalidatesOlderTokens(t *testing.T) {
	gate, tokens, c, db := newGate(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "admin@school.test", model.RoleAdmin)

	before := accessToken(t, tokens, u)

	c.t = c.t.Add(time.Minute)
	changed := c.t
	require.NoError(t, db.Model(u).Update("password_changed_at", changed).Error)

	c.t = c.t.Add(time.Minute)
	after := accessToken(t, tokens, u)

	_, err := gate.Authenticate(ctx, before, false)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))

	id, err := gate.Authenticate(ctx, after, false)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.ID)
}

func TestTokenIssuedInSameSecondAsChangeIsAccepted(t *testing.T) {
	gate, tokens, c, db := newGate(t)
	u := testutil.CreateUser(t, db, "same@school.test", model.RoleAdmin)

	changed := c.t.Add(300 * time.Millisecond)
	require.NoError(t, db.Model(u).Update("password_changed_at", changed).Error)

	_, err := gate.Authenticate(context.Background(), accessToken(t, tokens, u), false)
	assert.NoError(t, err)
}

func TestUnverifiedUser(t *testing.T) {
	gate, tokens, _, db := newGate(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "new@school.test", model.RoleParent)
	require.NoError(t, db.Model(u).Update("verified", false).Error)

	token := accessToken(t, tokens, u)

	_, err := gate.Authenticate(ctx, token, false)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	id, err := gate.Authenticate(ctx, token, true)
	require.NoError(t, err)
	assert.False(t, id.Verified)
}

func TestGateHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate, tokens, _, db := newGate(t)
	teacher := testutil.CreateUser(t, db, "t@school.test", model.RoleTeacher)
	token := accessToken(t, tokens, teacher)

	r := gin.New()
	r.Use(NewRequestIDMiddleware())
	r.GET("/me", gate.Handler(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": MustIdentity(c).ID})
	})
	r.GET("/admin", gate.Handler(), RequireRoles(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		path   string
		setup  func(*http.Request)
		status int
	}{
		{"no token", "/me", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer header", "/me", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie", "/me", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookie, Value: token}) }, http.StatusOK},
		{"query", "/me?token=" + token, func(*http.Request) {}, http.StatusOK},
		{"wrong role", "/admin", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

			if tt.status == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, teacher.ID, body["id"])
			}
		})
	}
}

func TestHeaderWinsOverCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Request = httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	c.Request.Header.Set("Authorization", "Bearer header")
	c.Request.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie"})
	assert.Equal(t, "header", ExtractToken(c))

	c.Request.Header.Del("Authorization")
	assert.Equal(t, "cookie", ExtractToken(c))

	c.Request = httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	assert.Equal(t, "query", ExtractToken(c))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Requests: 3, Window: time.Hour})
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}
