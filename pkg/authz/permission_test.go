package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "project:read", PermProjectRead.String())
	assert.Equal(t, "chat:write", PermChatWrite.String())
	assert.Equal(t, "user:manage_roles", PermUserManageRoles.String())
	assert.Equal(t, "admin:access", PermAdminAccess.String())
}

func TestAllPermissions(t *testing.T) {
	perms := AllPermissions()
	assert.Len(t, perms, 19)

	// Stable order: repeated calls return the same sequence.
	again := AllPermissions()
	assert.Equal(t, perms, again)

	// Returned slice is a copy, not the catalog itself.
	perms[0] = Permission{}
	assert.Equal(t, PermProjectCreate, AllPermissions()[0])
}

func TestParsePermission(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		for _, s := range AllPermissionStrings() {
			p, err := ParsePermission(s)
			require.NoError(t, err)
			assert.Equal(t, s, p.String())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		for _, s := range []string{"", "project", "project:", ":read", "project:fly", "PROJECT:READ", "chat:write "} {
			_, err := ParsePermission(s)
			assert.Error(t, err, "expected %q to be rejected", s)
		}
	})
}

func TestValidatePermissions(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		err := ValidatePermissions([]string{"project:read", "chat:write"})
		assert.NoError(t, err)
	})

	t.Run("empty list", func(t *testing.T) {
		assert.NoError(t, ValidatePermissions(nil))
	})

	t.Run("reports every offender", func(t *testing.T) {
		err := ValidatePermissions([]string{"project:read", "bogus", "chat:write", "also:bad"})
		require.Error(t, err)

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "permissions", validationErr.Field)
		assert.Equal(t, []string{"bogus", "also:bad"}, validationErr.Values)
	})
}

func TestPermissionStrings(t *testing.T) {
	got := PermissionStrings([]Permission{PermChatRead, PermReportExport})
	assert.Equal(t, []string{"chat:read", "report:export"}, got)
}
