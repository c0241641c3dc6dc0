package security

import (
	"errors"
	"fmt"
	"time"

	"bitwise74/school-api/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	v "github.com/spf13/viper"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token expired")
	ErrPurposeMismatch = errors.New("token issued for a different purpose")
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenPurpose TokenType = "purpose"
)

// Claims carried by every token. Access tokens fill UserID and Role, refresh
// tokens only UserID, purpose tokens UserID, Email and Purpose.
type Claims struct {
	UserID  string             `json:"id"`
	Role    model.Role         `json:"role,omitempty"`
	Type    TokenType          `json:"type"`
	Email   string             `json:"email,omitempty"`
	Purpose model.TokenPurpose `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

type IssuedToken struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type Session struct {
	Access  IssuedToken `json:"access"`
	Refresh IssuedToken `json:"refresh"`
}

type TokenConfig struct {
	Method jwt.SigningMethod
	// SignKey signs new tokens, VerifyKey checks them. For HMAC methods both
	// are the shared secret and VerifyKey may be left nil.
	SignKey    any
	VerifyKey  any
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

type TokenService struct {
	cfg TokenConfig
}

func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.Method == nil {
		cfg.Method = jwt.SigningMethodHS256
	}
	if cfg.VerifyKey == nil {
		cfg.VerifyKey = cfg.SignKey
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenService{cfg: cfg}
}

// NewTokenServiceFromConfig builds a HMAC token service from the jwt.* keys
func NewTokenServiceFromConfig() (*TokenService, error) {
	alg := v.GetString("jwt.algorithm")

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}

	return NewTokenService(TokenConfig{
		Method:     method,
		SignKey:    []byte(v.GetString("jwt.secret")),
		Issuer:     v.GetString("jwt.issuer"),
		AccessTTL:  v.GetDuration("jwt.access_ttl"),
		RefreshTTL: v.GetDuration("jwt.refresh_ttl"),
	}), nil
}

func (s *TokenService) Now() time.Time {
	return s.cfg.Now()
}

func (s *TokenService) sign(c *Claims, ttl time.Duration) (IssuedToken, error) {
	now := s.cfg.Now()

	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   c.UserID,
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.NewWithClaims(s.cfg.Method, c).SignedString(s.cfg.SignKey)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to sign %s token, %w", c.Type, err)
	}

	return IssuedToken{Token: token, Expires: c.ExpiresAt.Time}, nil
}

// IssueSession issues an access and refresh token pair for u
func (s *TokenService) IssueSession(u *model.User) (*Session, error) {
	access, err := s.sign(&Claims{UserID: u.ID, Role: u.Role, Type: TokenAccess}, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(&Claims{UserID: u.ID, Type: TokenRefresh}, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	return &Session{Access: access, Refresh: refresh}, nil
}

// IssuePurpose issues a single purpose token. The returned claims carry the
// jti the caller is expected to record.
func (s *TokenService) IssuePurpose(userID, email string, purpose model.TokenPurpose, ttl time.Duration) (string, *Claims, error) {
	c := &Claims{UserID: userID, Email: email, Type: TokenPurpose, Purpose: purpose}

	t, err := s.sign(c, ttl)
	if err != nil {
		return "", nil, err
	}

	return t.Token, c, nil
}

// Verify checks the signature and time claims of raw. Expired tokens fail
// with ErrExpiredToken, everything else with ErrInvalidToken.
func (s *TokenService) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.cfg.Method.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.cfg.VerifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if c.UserID == "" || c.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &c, nil
}

func (s *TokenService) verifyType(raw string, typ TokenType) (*Claims, error) {
	c, err := s.Verify(raw)
	if err != nil {
		return nil, err
	}

	if c.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, typ, c.Type)
	}

	return c, nil
}

func (s *TokenService) VerifyAccess(raw string) (*Claims, error) {
	return s.verifyType(raw, TokenAccess)
}

func (s *TokenService) VerifyRefresh(raw string) (*Claims, error) {
	return s.verifyType(raw, TokenRefresh)
}

// VerifyPurpose accepts raw only when it was issued for purpose
func (s *TokenService) VerifyPurpose(raw string, purpose model.TokenPurpose) (*Claims, error) {
	c, err := s.verifyType(raw, TokenPurpose)
	if err != nil {
		return nil, err
	}

	if c.Purpose != purpose {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrPurposeMismatch)
	}

	return c, nil
}
