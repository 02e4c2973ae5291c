package authz

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service  *Service
	mock     sqlmock.Sqlmock
	db       *sql.DB
	cache    *memoryCache
	users    *fakeUsers
	projects *fakeProjects
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &serviceFixture{
		mock:     mock,
		db:       db,
		cache:    newMemoryCache(),
		users:    &fakeUsers{users: make(map[string]*UserRecord)},
		projects: &fakeProjects{projects: make(map[string]*ProjectRecord)},
	}
	f.service = NewService(ServiceConfig{
		Store:    NewStore(db),
		Users:    f.users,
		Projects: f.projects,
		Cache:    f.cache,
	})
	return f
}

func TestServiceCreateRole(t *testing.T) {
	t.Run("valid role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))

		role, err := f.service.CreateRole(context.Background(), "t1", CreateRoleInput{
			Name:        "  Analyst  ",
			Description: "read-only analytics",
			Permissions: []string{"report:read", "chat:read"},
		})
		require.NoError(t, err)

		assert.NotEmpty(t, role.RoleID)
		assert.Equal(t, "Analyst", role.Name)
		assert.Equal(t, "t1", role.TenantID)
		assert.False(t, role.IsSystemRole)
		assert.Equal(t, []string{"report:read", "chat:read"}, role.Permissions)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("empty name", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.service.CreateRole(context.Background(), "t1", CreateRoleInput{
			Permissions: []string{"chat:read"},
		})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.Field)
	})

	t.Run("unknown permission", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.service.CreateRole(context.Background(), "t1", CreateRoleInput{
			Name:        "Analyst",
			Permissions: []string{"chat:read", "bogus:thing"},
		})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "permissions", verr.Field)
		assert.Contains(t, verr.Values, "bogus:thing")
	})
}

func TestServiceGetRole(t *testing.T) {
	t.Run("found and cached", func(t *testing.T) {
		f := newServiceFixture(t)
		now := time.Now().UTC()
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		role, err := f.service.GetRole(context.Background(), "r1", "t1")
		require.NoError(t, err)
		assert.Equal(t, "Analyst", role.Name)

		// Second read comes from the cache; no further query expected.
		role, err = f.service.GetRole(context.Background(), "r1", "t1")
		require.NoError(t, err)
		assert.Equal(t, "Analyst", role.Name)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cross-tenant reads as absent", func(t *testing.T) {
		f := newServiceFixture(t)
		now := time.Now().UTC()
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "other", CreatedAt: now, UpdatedAt: now}))

		_, err := f.service.GetRole(context.Background(), "r1", "t1")
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})
}

func TestServiceUpdateRole(t *testing.T) {
	now := time.Now().UTC()

	t.Run("patch and invalidate holders", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))
		f.mock.ExpectExec("UPDATE roles").
			WithArgs("Senior Analyst", "", `["report:read"]`, sqlmock.AnyArg(), "r1", "t1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery("SELECT (.+) FROM project_memberships WHERE role_id").
			WithArgs("r1").
			WillReturnRows(membershipRows(
				&ProjectMembership{MembershipID: "m1", UserID: "u1", ProjectID: "p1", RoleID: "r1", TenantID: "t1"},
				&ProjectMembership{MembershipID: "m2", UserID: "u2", ProjectID: "p2", RoleID: "r1", TenantID: "t1"},
			))

		name := "Senior Analyst"
		perms := []string{"report:read"}
		role, err := f.service.UpdateRole(context.Background(), "r1", "t1", UpdateRoleInput{
			Name:        &name,
			Permissions: &perms,
		})
		require.NoError(t, err)
		assert.Equal(t, "Senior Analyst", role.Name)
		assert.Equal(t, []string{"report:read"}, role.Permissions)

		// The role entry plus both scopes for every holder.
		assert.ElementsMatch(t, []string{
			"role:r1",
			"permissions:u1:p1", "permissions:u1:global",
			"permissions:u2:p2", "permissions:u2:global",
		}, f.cache.deleted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("system role immutable", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("t1-admin").
			WillReturnRows(roleRows(&Role{RoleID: "t1-admin", Name: "Administrator", IsSystemRole: true, TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		name := "Renamed"
		_, err := f.service.UpdateRole(context.Background(), "t1-admin", "t1", UpdateRoleInput{Name: &name})
		assert.ErrorIs(t, err, ErrSystemRoleImmutable)
		assert.Empty(t, f.cache.deleted)
	})

	t.Run("cross-tenant reads as absent", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "other", CreatedAt: now, UpdatedAt: now}))

		name := "Renamed"
		_, err := f.service.UpdateRole(context.Background(), "r1", "t1", UpdateRoleInput{Name: &name})
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	t.Run("invalid permissions rejected before write", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		perms := []string{"nope"}
		_, err := f.service.UpdateRole(context.Background(), "r1", "t1", UpdateRoleInput{Permissions: &perms})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestServiceDeleteRole(t *testing.T) {
	now := time.Now().UTC()

	t.Run("unreferenced role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))
		f.mock.ExpectQuery("SELECT COUNT(.+) FROM project_memberships").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectExec("DELETE FROM roles").
			WithArgs("r1", "t1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.service.DeleteRole(context.Background(), "r1", "t1"))
		assert.Equal(t, []string{"role:r1"}, f.cache.deleted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("role in use", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))
		f.mock.ExpectQuery("SELECT COUNT(.+) FROM project_memberships").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		err := f.service.DeleteRole(context.Background(), "r1", "t1")

		var inUse *RoleInUseError
		require.ErrorAs(t, err, &inUse)
		assert.Equal(t, int64(3), inUse.Memberships)
		assert.Empty(t, f.cache.deleted)
	})
}

func TestServiceEnsureSystemRoles(t *testing.T) {
	t.Run("seeds four roles", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM roles`).
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		for range SystemRoles("t1") {
			f.mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))
		}

		require.NoError(t, f.service.EnsureSystemRoles(context.Background(), "t1"))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("idempotent when already seeded", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM roles`).
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		require.NoError(t, f.service.EnsureSystemRoles(context.Background(), "t1"))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestServiceAssignRole(t *testing.T) {
	now := time.Now().UTC()

	t.Run("new membership", func(t *testing.T) {
		f := newServiceFixture(t)
		f.projects.projects["p1"] = &ProjectRecord{ProjectID: "p1", TenantID: "t1", OwnerID: "o1"}
		f.users.users["u1"] = &UserRecord{UserID: "u1", TenantID: "t1", Role: GlobalRoleProjectMember, IsActive: true}
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))
		f.mock.ExpectQuery("SELECT (.+) FROM project_memberships WHERE user_id").
			WithArgs("u1", "p1").
			WillReturnError(sql.ErrNoRows)
		f.mock.ExpectExec("INSERT INTO project_memberships").
			WillReturnResult(sqlmock.NewResult(0, 1))

		m, err := f.service.AssignRole(context.Background(), "actor", "u1", "p1", "r1", "t1")
		require.NoError(t, err)

		assert.NotEmpty(t, m.MembershipID)
		assert.Equal(t, "r1", m.RoleID)
		assert.Equal(t, "t1", m.TenantID)
		assert.ElementsMatch(t, []string{"permissions:u1:p1", "permissions:u1:global"}, f.cache.deleted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("existing membership upserts role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.projects.projects["p1"] = &ProjectRecord{ProjectID: "p1", TenantID: "t1", OwnerID: "o1"}
		f.users.users["u1"] = &UserRecord{UserID: "u1", TenantID: "t1", Role: GlobalRoleProjectMember, IsActive: true}
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r2").
			WillReturnRows(roleRows(&Role{RoleID: "r2", Name: "Editor", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))
		f.mock.ExpectQuery("SELECT (.+) FROM project_memberships WHERE user_id").
			WithArgs("u1", "p1").
			WillReturnRows(membershipRows(&ProjectMembership{
				MembershipID: "m1", UserID: "u1", ProjectID: "p1", RoleID: "r1", TenantID: "t1", CreatedAt: now, UpdatedAt: now,
			}))
		f.mock.ExpectExec("UPDATE project_memberships").
			WithArgs("r2", sqlmock.AnyArg(), "u1", "p1", "t1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		m, err := f.service.AssignRole(context.Background(), "actor", "u1", "p1", "r2", "t1")
		require.NoError(t, err)

		// Same membership row, new role reference.
		assert.Equal(t, "m1", m.MembershipID)
		assert.Equal(t, "r2", m.RoleID)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		f.projects.projects["p1"] = &ProjectRecord{ProjectID: "p1", TenantID: "t1", OwnerID: "o1"}
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		_, err := f.service.AssignRole(context.Background(), "actor", "ghost", "p1", "r1", "t1")
		assert.ErrorIs(t, err, ErrUserNotFound)

		// No membership row is written and nothing is invalidated.
		assert.Empty(t, f.cache.deleted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cross-tenant user reads as absent", func(t *testing.T) {
		f := newServiceFixture(t)
		f.projects.projects["p1"] = &ProjectRecord{ProjectID: "p1", TenantID: "t1", OwnerID: "o1"}
		f.users.users["u1"] = &UserRecord{UserID: "u1", TenantID: "other", Role: GlobalRoleProjectMember, IsActive: true}
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		_, err := f.service.AssignRole(context.Background(), "actor", "u1", "p1", "r1", "t1")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cross-tenant role reads as absent", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "other", CreatedAt: now, UpdatedAt: now}))

		_, err := f.service.AssignRole(context.Background(), "actor", "u1", "p1", "r1", "t1")
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	t.Run("cross-tenant project reads as absent", func(t *testing.T) {
		f := newServiceFixture(t)
		f.projects.projects["p1"] = &ProjectRecord{ProjectID: "p1", TenantID: "other", OwnerID: "o1"}
		f.mock.ExpectQuery("SELECT (.+) FROM roles WHERE role_id").
			WithArgs("r1").
			WillReturnRows(roleRows(&Role{RoleID: "r1", Name: "Analyst", TenantID: "t1", CreatedAt: now, UpdatedAt: now}))

		_, err := f.service.AssignRole(context.Background(), "actor", "u1", "p1", "r1", "t1")
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})
}

func TestServiceRevokeRole(t *testing.T) {
	t.Run("existing membership", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectExec("DELETE FROM project_memberships").
			WithArgs("u1", "p1", "t1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.service.RevokeRole(context.Background(), "actor", "u1", "p1", "t1"))
		assert.ElementsMatch(t, []string{"permissions:u1:p1", "permissions:u1:global"}, f.cache.deleted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("no membership", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectExec("DELETE FROM project_memberships").
			WithArgs("u1", "p1", "t1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := f.service.RevokeRole(context.Background(), "actor", "u1", "p1", "t1")
		assert.ErrorIs(t, err, ErrMembershipNotFound)
		assert.Empty(t, f.cache.deleted)
	})
}
