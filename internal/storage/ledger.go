// Package storage persists allocation history in SQLite and checks that
// shared state lives on a local filesystem.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/workspace"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger records allocations and removals. It satisfies workspace.Recorder
// so it can be handed straight to the allocator and cleaner.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ workspace.Recorder = (*Ledger)(nil)

// Entry is one allocation as stored in the ledger.
type Entry struct {
	ID            string
	Type          artifact.Type
	Dir           string
	Fingerprint   string
	Owner         string
	GitCommit     string
	CIJob         string
	PID           int
	RetentionDays int
	CreatedAt     time.Time
	RemovedAt     *time.Time
	RemovalReason string
}

// Removed reports whether the cleaner has reclaimed the directory.
func (e Entry) Removed() bool { return e.RemovedAt != nil }

// ListFilter narrows List results.
type ListFilter struct {
	Type           artifact.Type
	IncludeRemoved bool
}

// OpenLedger opens (and creates if needed) the ledger database at path.
// Paths on network filesystems are refused.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if err := CheckLocalFilesystem(path); errors.Is(err, ErrNetworkFilesystem) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS allocations (
  id             TEXT PRIMARY KEY,
  type           TEXT NOT NULL,
  dir            TEXT NOT NULL UNIQUE,
  fingerprint    TEXT NOT NULL,
  owner          TEXT NOT NULL,
  git_commit     TEXT NOT NULL,
  ci_job         TEXT NOT NULL,
  pid            INTEGER NOT NULL,
  retention_days INTEGER NOT NULL,
  created_at     TEXT NOT NULL,
  removed_at     TEXT,
  removal_reason TEXT
);`,
		`CREATE TABLE IF NOT EXISTS removals (
  id         TEXT PRIMARY KEY,
  run_id     TEXT NOT NULL,
  type       TEXT NOT NULL,
  dir        TEXT NOT NULL,
  reason     TEXT NOT NULL,
  removed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS allocations_type_created_at_idx ON allocations(type, created_at);`,
		`CREATE INDEX IF NOT EXISTS removals_run_id_idx ON removals(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ledger: %w", err)
		}
	}
	return nil
}

// RecordAllocation stores a. Re-allocating the same directory (same
// process, label and second) replaces the earlier row.
func (l *Ledger) RecordAllocation(ctx context.Context, a workspace.Allocation) error {
	m := a.Manifest
	_, err := l.db.ExecContext(ctx, `
INSERT INTO allocations (id, type, dir, fingerprint, owner, git_commit, ci_job, pid, retention_days, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dir) DO UPDATE SET
  fingerprint    = excluded.fingerprint,
  owner          = excluded.owner,
  git_commit     = excluded.git_commit,
  ci_job         = excluded.ci_job,
  pid            = excluded.pid,
  retention_days = excluded.retention_days,
  created_at     = excluded.created_at,
  removed_at     = NULL,
  removal_reason = NULL;`,
		uuid.NewString(), string(a.Type), a.Dir, a.Fingerprint, m.Owner, m.GitCommit, m.CIJob, m.PID,
		m.RetentionDays, formatTime(m.Created),
	)
	if err != nil {
		return fmt.Errorf("record allocation %s: %w", a.Dir, err)
	}
	return nil
}

// RecordRemoval stores r and marks the matching allocation removed.
func (l *Ledger) RecordRemoval(ctx context.Context, r workspace.Removal) error {
	at := r.At
	if at.IsZero() {
		at = l.now()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin removal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO removals (id, run_id, type, dir, reason, removed_at) VALUES (?, ?, ?, ?, ?, ?);`,
		uuid.NewString(), r.RunID, string(r.Type), r.Dir, string(r.Reason), formatTime(at),
	); err != nil {
		return fmt.Errorf("record removal %s: %w", r.Dir, err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE allocations SET removed_at = ?, removal_reason = ? WHERE dir = ? AND removed_at IS NULL;`,
		formatTime(at), string(r.Reason), r.Dir,
	); err != nil {
		return fmt.Errorf("mark allocation removed %s: %w", r.Dir, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit removal: %w", err)
	}
	return nil
}

// List returns allocations newest first.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.IncludeRemoved {
		where = append(where, "removed_at IS NULL")
	}
	query := `SELECT id, type, dir, fingerprint, owner, git_commit, ci_job, pid, retention_days, created_at, removed_at, removal_reason FROM allocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, dir ASC;"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		typ       string
		createdAt string
		removedAt sql.NullString
		reason    sql.NullString
	)
	if err := rows.Scan(&e.ID, &typ, &e.Dir, &e.Fingerprint, &e.Owner, &e.GitCommit, &e.CIJob,
		&e.PID, &e.RetentionDays, &createdAt, &removedAt, &reason); err != nil {
		return Entry{}, fmt.Errorf("scan allocation: %w", err)
	}
	e.Type = artifact.Type(typ)
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = created
	if removedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, removedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse removed_at %q: %w", removedAt.String, err)
		}
		e.RemovedAt = &at
	}
	e.RemovalReason = reason.String
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
