package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseRole("janitor")
	assert.Error(t, err)

	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestTokenStale(t *testing.T) {
	changed := time.Date(2025, 1, 1, 10, 0, 0, 500_000_000, time.UTC)
	u := &User{PasswordChangedAt: &changed}

	assert.True(t, u.TokenStale(changed.Add(-time.Second)))
	assert.False(t, u.TokenStale(changed.Truncate(time.Second)))
	assert.False(t, u.TokenStale(changed.Add(time.Second)))

	assert.False(t, (&User{}).TokenStale(time.Unix(0, 0)))
}

func TestAttendanceStats(t *testing.T) {
	assert.Equal(t, AttendanceStats{}, NewAttendanceStats(0, 0))
	assert.EqualValues(t, 67, NewAttendanceStats(3, 2).Percentage)
	assert.EqualValues(t, 33, NewAttendanceStats(3, 1).Percentage)
	assert.EqualValues(t, 50, NewAttendanceStats(2, 1).Percentage)
	assert.EqualValues(t, 100, NewAttendanceStats(20, 20).Percentage)
}

func TestResendRequest(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	r := &ResendRequest{}

	require.NoError(t, r.Register(start))
	assert.ErrorIs(t, r.Register(start.Add(30*time.Second)), ErrResendCooldown)

	at := start
	for i := 0; i < resendDailyMax-1; i++ {
		at = at.Add(2 * time.Minute)
		require.NoError(t, r.Register(at))
	}

	assert.ErrorIs(t, r.Register(at.Add(2*time.Minute)), ErrResendBlocked)
	assert.NoError(t, r.Register(start.Add(resendWindowLen+time.Minute)))
	assert.Equal(t, 1, r.Count)
}

func TestSubmissionStatusAt(t *testing.T) {
	due := time.Date(2025, 2, 1, 23, 59, 0, 0, time.UTC)
	h := &Homework{DueDate: due}

	assert.Equal(t, SubmissionSubmitted, h.SubmissionStatusAt(due))
	assert.Equal(t, SubmissionLate, h.SubmissionStatusAt(due.Add(time.Minute)))
}

func TestGroupByDay(t *testing.T) {
	entries := []TimetableEntry{
		{DayOfWeek: 1, Period: 1},
		{DayOfWeek: 1, Period: 2},
		{DayOfWeek: 3, Period: 1},
	}

	got := GroupByDay(entries)
	assert.Len(t, got, 2)
	assert.Len(t, got[1], 2)
	assert.Equal(t, 2, got[1][1].Period)
}
