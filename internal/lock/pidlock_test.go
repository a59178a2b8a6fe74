package lock_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/lock"
	"github.com/mattjoyce/pathwarden/internal/lock/mocks"
	pwlog "github.com/mattjoyce/pathwarden/internal/log"
)

func newManager(t *testing.T, prober lock.ProcessProber) (*lock.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmp", ".cleanup.lock")
	m, err := lock.New(path, lock.WithProber(prober), lock.WithLogger(pwlog.Discard()))
	require.NoError(t, err)
	return m, path
}

func TestAcquireWritesPID(t *testing.T) {
	m, path := newManager(t, lock.SystemProber())

	l, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
	assert.Equal(t, path, l.Path())
}

func TestAcquireFailsWhenHolderAlive(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProcessProber(ctrl)
	prober.EXPECT().Alive(31337).Return(true)

	m, path := newManager(t, prober)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("31337\n"), 0o644))

	l, err := m.Acquire()
	require.Error(t, err)
	assert.Nil(t, l)
	assert.True(t, errors.Is(err, artifact.ErrLockHeld))
	assert.Equal(t, "already running (pid=31337)", err.Error())

	var held *lock.HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, 31337, held.PID)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "31337\n", string(b), "a live holder's lock must not be touched")
}

func TestAcquireRecoversDeadHolder(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProcessProber(ctrl)
	prober.EXPECT().Alive(424242).Return(false)

	m, path := newManager(t, prober)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("424242\n"), 0o644))

	l, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
}

func TestAcquireRecoversMalformedLock(t *testing.T) {
	for _, content := range []string{"", "not-a-pid", "-4", "12 34"} {
		t.Run(strconv.Quote(content), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			prober := mocks.NewMockProcessProber(ctrl)

			m, path := newManager(t, prober)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			l, err := m.Acquire()
			require.NoError(t, err)
			require.NoError(t, l.Release())
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, path := newManager(t, lock.SystemProber())

	l, err := m.Acquire()
	require.NoError(t, err)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	var nilLock *lock.PIDLock
	assert.NoError(t, nilLock.Release())
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	m, path := newManager(t, lock.SystemProber())

	l, err := m.Acquire()
	require.NoError(t, err)

	// Another process recovered the lock after deciding ours was stale.
	require.NoError(t, os.WriteFile(path, []byte("99999\n"), 0o644))
	require.NoError(t, l.Release())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "99999\n", string(b))
}

func TestSecondAcquireWhileHeld(t *testing.T) {
	m, _ := newManager(t, lock.SystemProber())

	l, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	_, err = m.Acquire()
	assert.True(t, errors.Is(err, artifact.ErrLockHeld))
}

func TestInspect(t *testing.T) {
	m, path := newManager(t, lock.SystemProber())

	state, err := m.Inspect()
	require.NoError(t, err)
	assert.False(t, state.Exists)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	state, err = m.Inspect()
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.True(t, state.Malformed)
}

func TestSystemProber(t *testing.T) {
	p := lock.SystemProber()
	assert.True(t, p.Alive(os.Getpid()))
	assert.False(t, p.Alive(0))
	assert.False(t, p.Alive(-1))
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := lock.New("  ")
	assert.Error(t, err)
}
