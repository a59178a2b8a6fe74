package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/lock"
	pwlog "github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/manifest"
	"github.com/mattjoyce/pathwarden/internal/workspace"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(context.Background(), filepath.Join(t.TempDir(), "nested", ".ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func allocation(typ artifact.Type, dir string, created time.Time) workspace.Allocation {
	return workspace.Allocation{
		Type:        typ,
		Dir:         dir,
		Fingerprint: "fp-" + filepath.Base(dir),
		Manifest: manifest.Manifest{
			Created:       created,
			Owner:         "alice",
			GitCommit:     "abcd123",
			CIJob:         "local_alice",
			PID:           4321,
			RetentionDays: 7,
		},
	}
}

func TestOpenLedgerBootstrapsTables(t *testing.T) {
	l := openTestLedger(t)

	for _, table := range []string{"allocations", "removals"} {
		var name string
		err := l.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name)
		require.NoError(t, err, "table %q missing", table)
	}
}

func TestOpenLedgerRejectsEmptyPath(t *testing.T) {
	_, err := OpenLedger(context.Background(), "")
	assert.Error(t, err)
}

func TestLedgerRecordsAndLists(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordAllocation(ctx, allocation(artifact.TypeTest, "/a/test/one", base)))
	require.NoError(t, l.RecordAllocation(ctx, allocation(artifact.TypeAnalysis, "/a/analysis/two", base.Add(time.Hour))))

	all, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/a/analysis/two", all[0].Dir, "newest first")
	assert.Equal(t, "fp-one", all[1].Fingerprint)
	assert.Equal(t, 4321, all[1].PID)
	assert.True(t, all[1].CreatedAt.Equal(base))
	assert.NotEmpty(t, all[1].ID)

	tests, err := l.List(ctx, ListFilter{Type: artifact.TypeTest})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, artifact.TypeTest, tests[0].Type)
}

func TestLedgerReallocationReplacesRow(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	first := allocation(artifact.TypeTest, "/a/test/dup", base)
	require.NoError(t, l.RecordAllocation(ctx, first))
	second := first
	second.Fingerprint = "fp-second"
	require.NoError(t, l.RecordAllocation(ctx, second))

	entries, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fp-second", entries[0].Fingerprint)
}

func TestLedgerRemovalMarksAllocation(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordAllocation(ctx, allocation(artifact.TypeVision, "/a/vision/old", base)))
	require.NoError(t, l.RecordRemoval(ctx, workspace.Removal{
		RunID: "run-1", Type: artifact.TypeVision, Dir: "/a/vision/old",
		Reason: workspace.ReasonExpired, At: base.Add(10 * 24 * time.Hour),
	}))

	live, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := l.List(ctx, ListFilter{IncludeRemoved: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Removed())
	assert.Equal(t, "expired", all[0].RemovalReason)
	assert.True(t, all[0].RemovedAt.Equal(base.Add(10*24*time.Hour)))

	var count int
	require.NoError(t, l.db.QueryRow("SELECT COUNT(*) FROM removals WHERE run_id = ?;", "run-1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLedgerBacksAllocatorAndCleaner(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "artifacts")
	allocatedAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)
	id := artifact.Identity{Revision: "abcd123", Job: "local_alice", PID: 4321, Owner: "alice"}

	alloc, err := workspace.NewAllocator(root, id,
		workspace.WithRecorder(l),
		workspace.WithAllocatorClock(func() time.Time { return allocatedAt }),
		workspace.WithAllocatorLogger(pwlog.Discard()))
	require.NoError(t, err)
	created, err := alloc.Allocate(ctx, artifact.TypeAnalysis, "ledger run")
	require.NoError(t, err)

	entries, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, created.Dir, entries[0].Dir)
	assert.Equal(t, created.Fingerprint, entries[0].Fingerprint)

	locks, err := lock.New(filepath.Join(root, "tmp", ".cleanup.lock"), lock.WithLogger(pwlog.Discard()))
	require.NoError(t, err)
	cleaner, err := workspace.NewCleaner(root, locks,
		workspace.WithCleanerRecorder(l),
		workspace.WithCleanerClock(func() time.Time { return allocatedAt.Add(30 * 24 * time.Hour) }),
		workspace.WithCleanerLogger(pwlog.Discard()))
	require.NoError(t, err)

	report, err := cleaner.Cleanup(ctx, workspace.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	live, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, live)
}
