package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAdd_FirstUserIsAdmin(t *testing.T) {
	testEnv(t)
	userRealName, userAdmin = "", false

	require.NoError(t, userAddRun("root"))

	s, err := getStore()
	require.NoError(t, err)
	u, err := s.GetUserByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, u.Admin)
}

func TestUserAdd_RequiresAdmin(t *testing.T) {
	testEnv(t)
	userRealName, userAdmin = "", false
	seedUsers(t)

	actAs = "bob"
	err := userAddRun("carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only administrators")

	actAs = "alice"
	userRealName = "Carol C"
	t.Cleanup(func() { userRealName = "" })
	require.NoError(t, userAddRun("carol"))

	s, err := getStore()
	require.NoError(t, err)
	u, err := s.GetUserByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "Carol C", u.RealName)
	assert.False(t, u.Admin)

	err = userAddRun("carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestUserList(t *testing.T) {
	testEnv(t)
	seedUsers(t)

	out := captureOut(t)
	require.NoError(t, userListRun())
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "bob")
}

func TestUserEditor(t *testing.T) {
	testEnv(t)
	seedUsers(t)

	pattern := "txmt://open/?url=file:///src/%r/%f&line=%l"
	require.NoError(t, userEditorRun(pattern))

	s, err := getStore()
	require.NoError(t, err)
	u, err := s.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, pattern, u.EditorPattern)

	require.NoError(t, userEditorRun(""))
	u, err = s.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, u.EditorPattern)
}

func TestUserDisable(t *testing.T) {
	testEnv(t)
	seedUsers(t)

	err := userDisableRun("alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot disable yourself")

	require.NoError(t, userDisableRun("bob"))
	s, err := getStore()
	require.NoError(t, err)
	bob, err := s.GetUserByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, bob.Disabled)

	actAs = "bob"
	err = userDisableRun("alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only administrators")
}
