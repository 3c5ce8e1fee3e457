package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageSchema(t *testing.T) {
	testEnv(t)
	out := captureOut(t)

	require.NoError(t, storageSchemaRun())
	assert.Contains(t, out.String(), "CREATE TABLE")
	assert.Contains(t, out.String(), "tasks")
}

func TestStorageCheck(t *testing.T) {
	testEnv(t)
	assert.NoError(t, storageCheckRun())
}

func TestStorageLog(t *testing.T) {
	testEnv(t)
	resetTaskFlags(t)
	seedUsers(t)

	out := captureOut(t)
	require.NoError(t, storageLogRun())
	assert.Contains(t, out.String(), "Nothing has been destroyed")

	addTask(t, "Doomed")
	require.NoError(t, taskDestroyRun("T1"))

	out.Reset()
	require.NoError(t, storageLogRun())
	assert.Contains(t, out.String(), "TASK")
}
