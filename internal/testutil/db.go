// Package testutil provides fixtures shared by package tests
package testutil

import (
	"path/filepath"
	"testing"

	"bitwise74/school-api/db"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/security"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB returns a migrated SQLite database living in the test's temp dir
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	conn, err := db.Open("sqlite", db.SQLiteDSN(path), false)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return conn
}

// Password is the plain text password of every user created by CreateUser
const Password = "Password123!"

var passwordHash string

// CreateUser inserts a verified user with a profile
func CreateUser(t *testing.T, conn *gorm.DB, email string, role model.Role) *model.User {
	t.Helper()

	if passwordHash == "" {
		h, err := security.NewArgon2idHasher().Hash(Password)
		require.NoError(t, err)
		passwordHash = h
	}

	u := &model.User{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Verified:     true,
		Profile:      &model.Profile{FirstName: "Test", LastName: string(role)},
	}
	require.NoError(t, conn.Create(u).Error)

	return u
}

// CreateStudent inserts a student in the given class, optionally linked to a
// parent and to a login
func CreateStudent(t *testing.T, conn *gorm.DB, admission, grade, section string, parent, login *model.User) *model.Student {
	t.Helper()

	s := &model.Student{
		AdmissionNumber: admission,
		Grade:           grade,
		Section:         section,
		RollNumber:      1,
	}
	if parent != nil {
		s.ParentID = &parent.ID
	}
	if login != nil {
		s.UserID = &login.ID
	}
	require.NoError(t, conn.Create(s).Error)

	return s
}
