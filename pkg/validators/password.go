package validators

import (
	"errors"
	"unicode"
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters long")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrPasswordEmpty    = errors.New("no password provided")
	ErrPasswordWeak     = errors.New("password must contain at least one letter and one number")
)

func PasswordValidator(p string) error {
	if p == "" {
		return ErrPasswordEmpty
	}

	if len(p) < 8 {
		return ErrPasswordTooShort
	}

	// argon2 happily hashes anything, this only bounds the work per request
	if len(p) > 255 {
		return ErrPasswordTooLong
	}

	var letter, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !letter || !digit {
		return ErrPasswordWeak
	}

	return nil
}
