// Package lock implements the advisory PID-file lock that keeps two
// cleanup passes from running at once. It is best-effort: ownership is
// decided by probing the recorded pid, so a lock left by a crashed process
// is recovered automatically.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/log"
)

// HeldError reports a lock owned by a live process.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("already running (pid=%d)", e.PID)
}

// Is makes errors.Is(err, artifact.ErrLockHeld) hold.
func (e *HeldError) Is(target error) bool { return target == artifact.ErrLockHeld }

// Manager acquires the lock file at a fixed path.
type Manager struct {
	path   string
	prober ProcessProber
	logger *slog.Logger
	pid    int
}

// Option customizes a Manager during construction.
type Option func(*Manager)

// WithProber overrides the liveness probe.
func WithProber(p ProcessProber) Option {
	return func(m *Manager) { m.prober = p }
}

// WithLogger sets the logger used for stale-lock warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Manager for lockPath.
func New(lockPath string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(lockPath) == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	m := &Manager{
		path:   filepath.Clean(lockPath),
		prober: SystemProber(),
		logger: log.WithComponent("lock"),
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Path returns the lock file location.
func (m *Manager) Path() string { return m.path }

// State describes the lock file as found on disk.
type State struct {
	Exists    bool
	PID       int
	Alive     bool
	Malformed bool
}

// Inspect reads the lock file without modifying it.
func (m *Manager) Inspect() (State, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{Exists: true, Malformed: true}, fmt.Errorf("read lock file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return State{Exists: true, Malformed: true}, nil
	}
	return State{Exists: true, PID: pid, Alive: m.prober.Alive(pid)}, nil
}

// Acquire takes the lock. A lock recorded by a live process yields a
// *HeldError; a dead, unreadable or malformed one is removed with a
// warning and acquisition proceeds.
func (m *Manager) Acquire() (*PIDLock, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	// Two attempts: a competing process may recreate the file between our
	// stale removal and our exclusive create.
	for attempt := 0; attempt < 2; attempt++ {
		state, err := m.Inspect()
		switch {
		case state.Exists && state.Alive:
			return nil, &HeldError{Path: m.path, PID: state.PID}
		case state.Exists:
			m.logger.Warn("removing stale cleanup lock",
				"path", m.path, "pid", state.PID, "malformed", state.Malformed, "error", err)
			if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("remove stale lock: %w", err)
			}
		}

		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if _, err := fmt.Fprintf(f, "%d\n", m.pid); err != nil {
			_ = f.Close()
			_ = os.Remove(m.path)
			return nil, fmt.Errorf("write pid: %w", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(m.path)
			return nil, fmt.Errorf("close lock file: %w", err)
		}

		l := &PIDLock{path: m.path, pid: m.pid, done: make(chan struct{})}
		l.watchSignals()
		return l, nil
	}

	state, _ := m.Inspect()
	return nil, &HeldError{Path: m.path, PID: state.PID}
}

// PIDLock is a held lock. Release it with a deferred call; a signal
// watcher also removes it on SIGINT/SIGTERM. A SIGKILLed holder leaves the
// file behind for the next Acquire to recover.
type PIDLock struct {
	path string
	pid  int
	once sync.Once
	done chan struct{}
}

func (l *PIDLock) Path() string { return l.path }

// Release removes the lock file if it still records this process. It is
// safe to call more than once.
func (l *PIDLock) Release() error {
	if l == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.removeIfOwned()
	})
	return err
}

func (l *PIDLock) removeIfOwned() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock file: %w", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(l.pid) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// watchSignals removes the lock when the process is interrupted, then
// re-raises the signal so default handling (or the caller's own handler)
// still runs.
func (l *PIDLock) watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			_ = l.Release()
			signal.Stop(sigCh)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-l.done:
		}
	}()
}
