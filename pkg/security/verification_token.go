package security

import (
	"errors"
	"time"

	"bitwise74/school-api/internal/model"
)

type VerificationTokenOpts struct {
	UserID  string
	Email   string
	Purpose model.TokenPurpose
	TTL     time.Duration
}

// MakeVerificationToken issues a purpose token and the row that tracks its
// redemption. The row has to be saved for the token to be accepted.
func (s *TokenService) MakeVerificationToken(o *VerificationTokenOpts) (string, *model.VerificationToken, error) {
	if o == nil {
		return "", nil, errors.New("no token options provided")
	}

	if o.UserID == "" {
		return "", nil, errors.New("no user ID provided")
	}

	if o.Purpose == "" {
		return "", nil, errors.New("no token purpose provided")
	}

	if o.TTL <= 0 {
		return "", nil, errors.New("no expiry provided")
	}

	token, claims, err := s.IssuePurpose(o.UserID, o.Email, o.Purpose, o.TTL)
	if err != nil {
		return "", nil, err
	}

	return token, &model.VerificationToken{
		ID:        claims.ID,
		UserID:    o.UserID,
		Purpose:   o.Purpose,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: claims.IssuedAt.Time,
	}, nil
}
