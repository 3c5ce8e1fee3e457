// Package daemon tracks a background `forge serve` process through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Acquire when a live process owns the
	// PID file.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop when no live process owns the PID file.
	ErrNotRunning = errors.New("not running")
)

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
	// PollInterval is how often Stop checks whether the process exited.
	PollInterval time.Duration
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path, PollInterval: 100 * time.Millisecond}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Check returns ErrAlreadyRunning when a live process owns the file, and
// removes a stale file left by a dead one.
func (p *PIDFile) Check() error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}
	if err := p.Remove(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale PID file: %w", err)
	}
	return nil
}

// Acquire records pid in the file unless another live process owns it.
func (p *PIDFile) Acquire(pid int) error {
	if err := p.Check(); err != nil {
		return err
	}
	return p.WritePID(pid)
}

// Stop asks the owning process to exit and waits up to timeout before
// killing it. The PID file is removed once the process is gone.
func (p *PIDFile) Stop(timeout time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Remove()
		return pid, ErrNotRunning
	}
	if err := p.Signal(termSignal); err != nil {
		return pid, fmt.Errorf("signal PID %d: %w", pid, err)
	}
	if !p.waitExit(timeout) {
		if err := p.Signal(killSignal); err != nil {
			return pid, fmt.Errorf("kill PID %d: %w", pid, err)
		}
		p.waitExit(timeout)
	}
	if err := p.Remove(); err != nil && !os.IsNotExist(err) {
		return pid, fmt.Errorf("remove PID file: %w", err)
	}
	return pid, nil
}

func (p *PIDFile) waitExit(timeout time.Duration) bool {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if _, running := p.IsRunning(); !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
