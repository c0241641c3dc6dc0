package access

import (
	"context"
	"testing"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/testutil"
	"bitwise74/school-api/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	teacher := Identity{ID: "t1", Role: model.RoleTeacher}

	assert.NoError(t, RequireRole(teacher, model.RoleAdmin, model.RoleTeacher))
	assert.True(t, apperr.IsKind(RequireRole(teacher, model.RoleAdmin), apperr.KindForbidden))
}

func TestScopeTeacher(t *testing.T) {
	assert.NoError(t, ScopeTeacher(Identity{ID: "t1", Role: model.RoleTeacher}, "t1"))
	assert.NoError(t, ScopeTeacher(Identity{ID: "a1", Role: model.RoleAdmin}, "t1"))
	assert.True(t, apperr.IsKind(ScopeTeacher(Identity{ID: "t2", Role: model.RoleTeacher}, "t1"), apperr.KindForbidden))
}

func TestOwnerOrAdmin(t *testing.T) {
	assert.NoError(t, OwnerOrAdmin(Identity{ID: "u1", Role: model.RoleTeacher}, "u1", "circulars"))
	assert.NoError(t, OwnerOrAdmin(Identity{ID: "a1", Role: model.RoleAdmin}, "u1", "circulars"))

	err := OwnerOrAdmin(Identity{ID: "u2", Role: model.RoleTeacher}, "u1", "circulars")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	assert.Contains(t, err.Error(), "circulars")
}

func TestScopeStudent(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	parent := testutil.CreateUser(t, db, "parent@school.test", model.RoleParent)
	otherParent := testutil.CreateUser(t, db, "other@school.test", model.RoleParent)
	login := testutil.CreateUser(t, db, "kid@school.test", model.RoleStudent)

	child := testutil.CreateStudent(t, db, "ADM-1", "5", "A", parent, login)
	stranger := testutil.CreateStudent(t, db, "ADM-2", "5", "A", otherParent, nil)

	cases := []struct {
		name string
		id   Identity
		sid  string
		kind apperr.Kind
		ok   bool
	}{
		{"parent reads own child", Identity{ID: parent.ID, Role: model.RoleParent}, child.ID, 0, true},
		{"parent reads other child", Identity{ID: parent.ID, Role: model.RoleParent}, stranger.ID, apperr.KindForbidden, false},
		{"parent asks for missing id", Identity{ID: parent.ID, Role: model.RoleParent}, "missing", apperr.KindForbidden, false},
		{"student reads self", Identity{ID: login.ID, Role: model.RoleStudent}, child.ID, 0, true},
		{"student reads classmate", Identity{ID: login.ID, Role: model.RoleStudent}, stranger.ID, apperr.KindForbidden, false},
		{"teacher reads anyone", Identity{ID: "t1", Role: model.RoleTeacher}, stranger.ID, 0, true},
		{"admin gets not found", Identity{ID: "a1", Role: model.RoleAdmin}, "missing", apperr.KindNotFound, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ScopeStudent(ctx, db, tc.id, tc.sid)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.sid, s.ID)
				return
			}

			assert.True(t, apperr.IsKind(err, tc.kind), err)
		})
	}
}

func TestStudentOf(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	login := testutil.CreateUser(t, db, "kid@school.test", model.RoleStudent)
	s := testutil.CreateStudent(t, db, "ADM-1", "5", "A", nil, login)

	got, err := StudentOf(ctx, db, login.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = StudentOf(ctx, db, "nobody")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
