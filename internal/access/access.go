// Package access decides whether an authenticated identity may act on a
// resource. Role checks come first, relationship scoping is layered on top
// for the roles it applies to.
package access

import (
	"context"
	"errors"
	"slices"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"

	"gorm.io/gorm"
)

// Identity is the authenticated caller, resolved by the auth gate
type Identity struct {
	ID       string
	Role     model.Role
	Verified bool
}

func (i Identity) Is(roles ...model.Role) bool {
	return slices.Contains(roles, i.Role)
}

// RequireRole fails with Forbidden unless the identity holds one of roles
func RequireRole(id Identity, roles ...model.Role) error {
	if !id.Is(roles...) {
		return apperr.Forbidden("You do not have permission to perform this action")
	}

	return nil
}

// ScopeTeacher restricts teachers to resources naming themselves. Other
// roles pass.
func ScopeTeacher(id Identity, teacherID string) error {
	if id.Role == model.RoleTeacher && id.ID != teacherID {
		return apperr.Forbidden("Teachers can only access their own records")
	}

	return nil
}

// ScopeStudent loads the named student on behalf of id. Parents only see
// their dependents and students only themselves. For those two roles a
// missing student is reported as Forbidden so ids can't be probed.
func ScopeStudent(ctx context.Context, db *gorm.DB, id Identity, studentID string) (*model.Student, error) {
	q := db.WithContext(ctx).Where("id = ?", studentID)

	switch id.Role {
	case model.RoleParent:
		q = q.Where("parent_id = ?", id.ID)
	case model.RoleStudent:
		q = q.Where("user_id = ?", id.ID)
	}

	var s model.Student
	if err := q.First(&s).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal(err)
		}

		if id.Is(model.RoleParent, model.RoleStudent) {
			return nil, apperr.Forbidden("You can only access records of your own children")
		}

		return nil, apperr.NotFound("Student not found")
	}

	return &s, nil
}

// StudentOf returns the student record whose login is userID
func StudentOf(ctx context.Context, db *gorm.DB, userID string) (*model.Student, error) {
	var s model.Student
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("No student record is linked to this account")
		}

		return nil, apperr.Internal(err)
	}

	return &s, nil
}

// OwnerOrAdmin lets admins act on anything and everybody else only on
// resources they own
func OwnerOrAdmin(id Identity, ownerID, what string) error {
	if id.Role == model.RoleAdmin || id.ID == ownerID {
		return nil
	}

	return apperr.Forbidden("You can only modify " + what + " you created")
}
