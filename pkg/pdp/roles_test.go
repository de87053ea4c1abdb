package pdp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolesForUser_DirectOnly(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddRoleForUser("admin", "superadmin"))

	assert.ElementsMatch(t, []string{"admin"}, e.GetRolesForUser("alice"),
		"GetRolesForUser returns direct assignments only")
	assert.ElementsMatch(t, []string{"alice"}, e.GetUsersForRole("admin"))
}

func TestHasRoleForUser_Transitive(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddRoleForUser("admin", "superadmin"))

	ctx := context.Background()
	assert.True(t, e.HasRoleForUser(ctx, "alice", "admin"))
	assert.True(t, e.HasRoleForUser(ctx, "alice", "superadmin"))
	assert.False(t, e.HasRoleForUser(ctx, "superadmin", "alice"))
}

func TestGroupingStoreAndRoleGraphStayConsistent(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	ctx := context.Background()

	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	assert.True(t, e.HasRoleForUser(ctx, "alice", "admin"))

	require.NoError(t, e.DeleteRoleForUser("alice", "admin"))
	assert.False(t, e.HasRoleForUser(ctx, "alice", "admin"))
}

func TestDeleteUser_SweepsAllEdges(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddRoleForUser("alice", "auditor"))
	require.NoError(t, e.AddRoleForUser("bob", "admin"))

	require.NoError(t, e.DeleteUser("alice"))

	ctx := context.Background()
	assert.Empty(t, e.GetRolesForUser("alice"))
	assert.True(t, e.HasRoleForUser(ctx, "bob", "admin"), "other users' edges survive")
}

func TestDeleteRole_SweepsEdgesAndPolicies(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddNamedPolicy("p", []string{"admin", "data1", "read"}))
	require.NoError(t, e.AddNamedPolicy("p", []string{"bob", "data2", "write"}))

	require.NoError(t, e.DeleteRole("admin"))

	assert.Empty(t, e.GetRolesForUser("alice"))
	assert.False(t, e.HasPolicy([]string{"admin", "data1", "read"}),
		"policies granted to the deleted role are swept too")
	assert.True(t, e.HasPolicy([]string{"bob", "data2", "write"}))
}

func TestDomainScopedRoleQueries(t *testing.T) {
	e := mustEnforcer(t, domainModel)
	require.NoError(t, e.AddRoleForUserInDomain("alice", "admin", "d1"))
	require.NoError(t, e.AddRoleForUserInDomain("alice", "viewer", "d2"))

	assert.ElementsMatch(t, []string{"admin"}, e.GetRolesForUser("alice", "d1"))
	assert.ElementsMatch(t, []string{"viewer"}, e.GetRolesForUser("alice", "d2"))

	ctx := context.Background()
	assert.True(t, e.HasRoleForUser(ctx, "alice", "admin", "d1"))
	assert.False(t, e.HasRoleForUser(ctx, "alice", "admin", "d2"))
}

func TestDeleteAllUsersByDomain(t *testing.T) {
	e := mustEnforcer(t, domainModel)
	require.NoError(t, e.AddRoleForUserInDomain("alice", "admin", "d1"))
	require.NoError(t, e.AddRoleForUserInDomain("bob", "viewer", "d1"))
	require.NoError(t, e.AddRoleForUserInDomain("carol", "admin", "d2"))

	require.NoError(t, e.DeleteAllUsersByDomain("d1"))

	assert.Empty(t, e.GetRolesForUser("alice", "d1"))
	assert.Empty(t, e.GetRolesForUser("bob", "d1"))
	assert.ElementsMatch(t, []string{"admin"}, e.GetRolesForUser("carol", "d2"))
}

func TestDeleteDomains(t *testing.T) {
	e := mustEnforcer(t, domainModel)
	require.NoError(t, e.AddRoleForUserInDomain("alice", "admin", "d1"))
	require.NoError(t, e.AddRoleForUserInDomain("carol", "admin", "d2"))

	require.NoError(t, e.DeleteDomains("d1", "d2"))

	assert.Empty(t, e.GetRolesForUser("alice", "d1"))
	assert.Empty(t, e.GetRolesForUser("carol", "d2"))
}

func TestPermissionsForUser(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddPermissionForUser("alice", "data1", "read"))
	require.NoError(t, e.AddPermissionForUser("bob", "data2", "write"))

	perms := e.GetPermissionsForUser("alice")
	assert.Equal(t, [][]string{{"alice", "data1", "read"}}, perms)
}

func TestImplicitRolesForUser(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddRoleForUser("admin", "superadmin"))

	assert.ElementsMatch(t, []string{"admin", "superadmin"}, e.GetImplicitRolesForUser("alice"))
}

func TestImplicitPermissionsForUser(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddPermissionForUser("alice", "data0", "read"))
	require.NoError(t, e.AddPermissionForUser("admin", "data1", "write"))

	perms := e.GetImplicitPermissionsForUser("alice")
	assert.ElementsMatch(t, [][]string{
		{"alice", "data0", "read"},
		{"admin", "data1", "write"},
	}, perms)
}

func TestImplicitUsersForRole(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddRoleForUser("admin", "superadmin"))

	assert.ElementsMatch(t, []string{"alice", "admin"}, e.GetImplicitUsersForRole("superadmin"))
}

func TestImplicitUsersForPermission(t *testing.T) {
	e := mustEnforcer(t, rbacModel)
	require.NoError(t, e.AddRoleForUser("alice", "admin"))
	require.NoError(t, e.AddNamedPolicy("p", []string{"admin", "data1", "read"}))
	require.NoError(t, e.AddNamedPolicy("p", []string{"bob", "data1", "read"}))

	users := e.GetImplicitUsersForPermission("data1", "read")
	assert.ElementsMatch(t, []string{"admin", "alice", "bob"}, users)
}
