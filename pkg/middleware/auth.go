package middleware

import (
	"context"
	"errors"
	"strings"

	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/respond"
	"bitwise74/school-api/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	identityKey = "identity"

	// AccessCookie is the cookie login sets and the gate reads as a fallback
	AccessCookie = "accessToken"
)

// Gate authenticates requests with access tokens
type Gate struct {
	db     *gorm.DB
	tokens *security.TokenService
}

func NewGate(db *gorm.DB, tokens *security.TokenService) *Gate {
	return &Gate{db: db, tokens: tokens}
}

// ExtractToken looks for a token in the Authorization header, then the
// access cookie, then the token query parameter
func ExtractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok && t != "" {
			return strings.TrimSpace(t)
		}
	}

	if t, err := c.Cookie(AccessCookie); err == nil && t != "" {
		return t
	}

	return c.Query("token")
}

// Authenticate resolves raw into an identity. The steps run in a fixed
// order: token presence, signature and expiry, user existence, password
// change, verification. Nothing touches the database before the token is
// known to be valid.
func (g *Gate) Authenticate(ctx context.Context, raw string, allowUnverified bool) (access.Identity, error) {
	if raw == "" {
		return access.Identity{}, apperr.Unauthenticated("Please authenticate")
	}

	claims, err := g.tokens.VerifyAccess(raw)
	if err != nil {
		msg := "Invalid token"
		if errors.Is(err, security.ErrExpiredToken) {
			msg = "Token expired"
		}

		return access.Identity{}, apperr.Unauthenticated(msg).Wrap(err)
	}

	var user model.User
	err = g.db.WithContext(ctx).
		Select("id", "role", "verified", "password_changed_at").
		Where("id = ?", claims.UserID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return access.Identity{}, apperr.Unauthenticated("User not found").Wrap(err)
		}

		return access.Identity{}, apperr.Internal(err)
	}

	if user.TokenStale(claims.IssuedAt.Time) {
		return access.Identity{}, apperr.Unauthenticated("User recently changed password. Please log in again")
	}

	if !user.Verified && !allowUnverified {
		return access.Identity{}, apperr.Forbidden("Please verify your email first")
	}

	return access.Identity{ID: user.ID, Role: user.Role, Verified: user.Verified}, nil
}

func (g *Gate) handler(allowUnverified bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := g.Authenticate(c.Request.Context(), ExtractToken(c), allowUnverified)
		if err != nil {
			if errors.Is(err, security.ErrInvalidToken) {
				zap.L().Debug("Rejected token", zap.Error(err), zap.String("requestID", c.GetString("requestID")))
			}

			respond.Error(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Set("userID", id.ID)
		c.Next()
	}
}

// Handler rejects unauthenticated and unverified callers
func (g *Gate) Handler() gin.HandlerFunc {
	return g.handler(false)
}

// AllowUnverified is Handler for the routes an unverified user still needs,
// like requesting a new verification mail
func (g *Gate) AllowUnverified() gin.HandlerFunc {
	return g.handler(true)
}

// MustIdentity returns the identity the gate attached. It panics when used on
// a route without the gate.
func MustIdentity(c *gin.Context) access.Identity {
	return c.MustGet(identityKey).(access.Identity)
}

// RequireRoles aborts with Forbidden unless the caller holds one of roles
func RequireRoles(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := access.RequireRole(MustIdentity(c), roles...); err != nil {
			respond.Error(c, err)
			return
		}

		c.Next()
	}
}
