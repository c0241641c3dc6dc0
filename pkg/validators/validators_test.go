package validators

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordValidator(t *testing.T) {
	assert.ErrorIs(t, PasswordValidator(""), ErrPasswordEmpty)
	assert.ErrorIs(t, PasswordValidator("abc1"), ErrPasswordTooShort)
	assert.ErrorIs(t, PasswordValidator("abcdefgh"), ErrPasswordWeak)
	assert.ErrorIs(t, PasswordValidator("12345678"), ErrPasswordWeak)
	assert.NoError(t, PasswordValidator("abcdefg1"))
}

func TestEmailValidator(t *testing.T) {
	assert.ErrorIs(t, EmailValidator(""), ErrEmailEmpty)
	assert.ErrorIs(t, EmailValidator("nope"), ErrEmailInvalid)
	assert.ErrorIs(t, EmailValidator("Jane <jane@school.test>"), ErrEmailInvalid)
	assert.NoError(t, EmailValidator("jane@school.test"))

	assert.Equal(t, "jane@school.test", NormalizeEmail("  Jane@School.TEST "))
}

func TestBindingTags(t *testing.T) {
	require.NoError(t, RegisterBindings())

	type req struct {
		Day   string `binding:"required,date"`
		Start string `binding:"required,clock"`
	}

	assert.NoError(t, binding.Validator.ValidateStruct(&req{Day: "2025-02-28", Start: "08:30"}))
	assert.Error(t, binding.Validator.ValidateStruct(&req{Day: "2025-02-30", Start: "08:30"}))
	assert.Error(t, binding.Validator.ValidateStruct(&req{Day: "2025-02-01", Start: "25:00"}))
}

func TestDateRange(t *testing.T) {
	assert.NoError(t, DateRange("", ""))
	assert.NoError(t, DateRange("2025-01-01", ""))
	assert.NoError(t, DateRange("2025-01-01", "2025-01-01"))
	assert.Error(t, DateRange("2025-13-01", ""))
	assert.Error(t, DateRange("", "yesterday"))
	assert.Error(t, DateRange("2025-02-01", "2025-01-01"))
}
