package directory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/workflow"
)

func TestStatic_GetAndOrder(t *testing.T) {
	d := directory.NewStatic(
		directory.User{ID: "b", Name: "Ben", DepartmentID: "eng", Role: workflow.RoleStaff},
		directory.User{ID: "a", Name: "Ada", DepartmentID: "eng", Role: workflow.RoleStaff},
	)
	ctx := context.Background()

	u, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = d.Get(ctx, "nope")
	assert.ErrorIs(t, err, directory.ErrUserNotFound)

	users, err := d.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].ID)
}

func TestStatic_ImplementsWorkflowDirectory(t *testing.T) {
	d := directory.NewStatic(directory.User{
		ID:                 "mgr-1",
		Name:               "Cleo",
		DepartmentID:       "eng",
		Role:               workflow.RoleManager,
		ManagedDepartments: []string{"eng", "qa"},
	})
	ctx := context.Background()

	actor, err := d.Actor(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleManager, actor.Role)
	assert.True(t, actor.Manages("qa"))

	dept, err := d.DepartmentOf(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, "eng", dept)

	_, err = d.DepartmentOf(ctx, "ghost")
	assert.ErrorIs(t, err, directory.ErrUserNotFound)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "emp-1", "name": "Ada", "department_id": "eng", "role": "staff"},
		{"id": "mgr-1", "name": "Cleo", "department_id": "eng", "role": "manager", "managed_departments": ["eng"]}
	]`), 0o644))

	d, err := directory.LoadFile(path)
	require.NoError(t, err)

	users, err := d.Users(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)

	actor, err := d.Actor(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleManager, actor.Role)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := directory.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
