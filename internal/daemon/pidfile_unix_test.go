//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_Stop_Child(t *testing.T) {
	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	// Reap the child so it doesn't linger as a zombie that still answers
	// signal 0.
	go func() { _ = child.Wait() }()

	path := filepath.Join(t.TempDir(), "child.pid")
	pf := NewPIDFile(path)
	pf.PollInterval = 10 * time.Millisecond
	require.NoError(t, pf.Acquire(child.Process.Pid))

	pid, err := pf.Stop(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, child.Process.Pid, pid)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, running := pf.IsRunning()
	assert.False(t, running)
}
