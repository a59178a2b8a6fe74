package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/doctor"
	"github.com/mattjoyce/pathwarden/internal/lock"
	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/sprawl"
	"github.com/mattjoyce/pathwarden/internal/storage"
	"github.com/mattjoyce/pathwarden/internal/workspace"
)

func runCreate(ctx context.Context, args []string) int {
	var g globalFlags
	fs := newFlagSet("create", &g)
	retention := fs.Int("retention", 0, "retention window in days (default: per-type or default_retention_days)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: pathwarden create <type> <context> [--retention N]")
		return 1
	}
	t, err := artifact.ParseType(fs.Arg(0))
	if err != nil {
		return fail("%v", err)
	}
	if *retention < 0 {
		return fail("--retention must not be negative")
	}

	e, err := loadEnv(g, true)
	if err != nil {
		return fail("%v", err)
	}
	rec, _, closeRec, err := e.recorder(ctx)
	if err != nil {
		return fail("%v", err)
	}
	defer closeRec()

	alloc, err := workspace.NewAllocator(e.cfg.ArtifactsRoot, artifact.ProcessIdentity(ctx, e.cfg.ProjectRoot),
		workspace.WithRecorder(rec),
		workspace.WithValidator(e.validator()),
		workspace.WithTypeRetention(e.typeRetention()),
		workspace.WithAllocatorLogger(log.WithComponent("allocator")),
	)
	if err != nil {
		return fail("%v", err)
	}

	var opts []workspace.AllocateOption
	if *retention > 0 {
		opts = append(opts, workspace.WithRetention(*retention))
	}
	created, err := alloc.Allocate(ctx, t, fs.Arg(1), opts...)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Println(created.Dir)
	return 0
}

func runValidate(args []string) int {
	var g globalFlags
	fs := newFlagSet("validate", &g)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pathwarden validate <path>")
		return 1
	}

	e, err := loadEnv(g, false)
	if err != nil {
		return fail("%v", err)
	}
	verdict := e.validator().Classify(fs.Arg(0))
	if verdict.Valid {
		fmt.Printf("%s %s\n  rule %s: %s\n", styleOK.Render("VALID"), verdict.Path, verdict.Rule, verdict.Reason)
		return 0
	}
	fmt.Printf("%s %s\n  rule %s: %s\n  %s\n", styleError.Render("INVALID"), verdict.Path, verdict.Rule, verdict.Reason,
		styleDim.Render(artifact.Remediation))
	return 1
}

func runCleanup(ctx context.Context, args []string) int {
	var g globalFlags
	fs := newFlagSet("cleanup", &g)
	days := fs.Int("days", 0, "default retention in days (default: default_retention_days)")
	typeName := fs.String("type", "", "only expire this artifact type (tmp is always emptied)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "Usage: pathwarden cleanup [--days N] [--type T]")
		return 1
	}
	if *days < 0 {
		return fail("--days must not be negative")
	}
	var filter artifact.Type
	if *typeName != "" {
		t, err := artifact.ParseType(*typeName)
		if err != nil {
			return fail("%v", err)
		}
		filter = t
	}

	e, err := loadEnv(g, true)
	if err != nil {
		return fail("%v", err)
	}
	if *days <= 0 {
		*days = e.cfg.DefaultRetentionDays
	}
	rec, _, closeRec, err := e.recorder(ctx)
	if err != nil {
		return fail("%v", err)
	}
	defer closeRec()

	locks, err := lock.New(e.cfg.LockPath(), lock.WithLogger(log.WithComponent("lock")))
	if err != nil {
		return fail("%v", err)
	}
	cleaner, err := workspace.NewCleaner(e.cfg.ArtifactsRoot, locks,
		workspace.WithCleanerRecorder(rec),
		workspace.WithCleanerRetention(e.typeRetention()),
		workspace.WithCleanerLogger(log.WithComponent("cleaner")),
	)
	if err != nil {
		return fail("%v", err)
	}

	report, err := cleaner.Cleanup(ctx, workspace.CleanupOptions{DefaultRetentionDays: *days, Type: filter})
	var held *lock.HeldError
	if errors.As(err, &held) {
		return fail("cleanup %s; lock file %s", held.Error(), held.Path)
	}

	fmt.Printf("Removed %d director(ies) (expired: %d, tmp: %d)\n", report.Total(), report.Expired, report.TmpCleared)
	for _, dir := range report.Skipped {
		fmt.Printf("  %s %s (age unknown)\n", styleWarn.Render("skipped"), dir)
	}
	if err != nil {
		return fail("%v", err)
	}
	return 0
}

func runSetup(args []string) int {
	var g globalFlags
	fs := newFlagSet("setup", &g)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "Usage: pathwarden setup")
		return 1
	}

	e, err := loadEnv(g, true)
	if err != nil {
		return fail("%v", err)
	}
	created, err := workspace.EnsureLayout(e.cfg.ArtifactsRoot)
	if err != nil {
		return fail("%v", err)
	}
	if len(created) == 0 {
		fmt.Printf("%s already set up\n", e.cfg.ArtifactsRoot)
		return 0
	}
	for _, path := range created {
		fmt.Printf("%s %s\n", styleOK.Render("created"), path)
	}
	return 0
}

func runCheck(ctx context.Context, args []string) int {
	var g globalFlags
	fs := newFlagSet("check", &g)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: pathwarden check [dir]")
		return 1
	}

	e, err := loadEnv(g, true)
	if err != nil {
		return fail("%v", err)
	}
	dir := e.cfg.ProjectRoot
	if fs.NArg() == 1 {
		dir = fs.Arg(0)
	}

	detector, err := sprawl.NewDetector(e.cfg.ArtifactsRoot, sprawl.WithLogger(log.WithComponent("sprawl")))
	if err != nil {
		return fail("%v", err)
	}
	report, err := detector.Scan(ctx, dir)
	if err != nil {
		return fail("%v", err)
	}
	if report.Compliant {
		fmt.Printf("%s no artifact sprawl under %s\n", styleOK.Render("OK"), report.Root)
		return 0
	}
	fmt.Printf("%s %d artifact director(ies) outside %s:\n", styleError.Render("SPRAWL"), len(report.Offending), e.cfg.ArtifactsRoot)
	for _, path := range report.Offending {
		fmt.Printf("  %s\n", path)
	}
	fmt.Println(styleDim.Render(artifact.Remediation))
	return 1
}

func runDoctor(ctx context.Context, args []string) int {
	var g globalFlags
	fs := newFlagSet("doctor", &g)
	jsonOut := fs.Bool("json", false, "output the report as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	e, err := loadEnv(g, !*jsonOut)
	if err != nil {
		return fail("%v", err)
	}

	var opts []doctor.Option
	if e.cfg.Ledger.Enabled {
		if _, statErr := os.Stat(e.cfg.LedgerPath()); statErr == nil {
			_, ledger, closeRec, err := e.recorder(ctx)
			if err != nil {
				return fail("%v", err)
			}
			defer closeRec()
			opts = append(opts, doctor.WithLedger(ledger))
		}
	}
	d, err := doctor.New(e.cfg, opts...)
	if err != nil {
		return fail("%v", err)
	}
	result := d.Check(ctx)

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			return fail("render report: %v", err)
		}
		fmt.Println(out)
	} else {
		fmt.Print(renderDoctor(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

type listEntry struct {
	Type          string     `json:"type"`
	Dir           string     `json:"dir"`
	Created       time.Time  `json:"created"`
	Owner         string     `json:"owner"`
	GitCommit     string     `json:"git_commit"`
	CIJob         string     `json:"ci_job"`
	RetentionDays int        `json:"retention_days"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	Note          string     `json:"note,omitempty"`
}

func runList(ctx context.Context, args []string) int {
	var g globalFlags
	fs := newFlagSet("list", &g)
	typeName := fs.String("type", "", "only list this artifact type")
	jsonOut := fs.Bool("json", false, "output as JSON")
	all := fs.Bool("all", false, "include removed allocations (ledger only)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	var filter artifact.Type
	if *typeName != "" {
		t, err := artifact.ParseType(*typeName)
		if err != nil {
			return fail("%v", err)
		}
		filter = t
	}

	e, err := loadEnv(g, !*jsonOut)
	if err != nil {
		return fail("%v", err)
	}

	var entries []listEntry
	if e.cfg.Ledger.Enabled {
		_, ledger, closeRec, err := e.recorder(ctx)
		if err != nil {
			return fail("%v", err)
		}
		defer closeRec()
		rows, err := ledger.List(ctx, storage.ListFilter{Type: filter, IncludeRemoved: *all})
		if err != nil {
			return fail("%v", err)
		}
		for _, r := range rows {
			entries = append(entries, listEntry{
				Type: string(r.Type), Dir: r.Dir, Created: r.CreatedAt, Owner: r.Owner, GitCommit: r.GitCommit,
				CIJob: r.CIJob, RetentionDays: r.RetentionDays, Fingerprint: r.Fingerprint, RemovedAt: r.RemovedAt,
			})
		}
	} else {
		rows, err := workspace.Inventory(ctx, e.cfg.ArtifactsRoot, filter, nil)
		if err != nil {
			return fail("%v", err)
		}
		for _, r := range rows {
			entry := listEntry{
				Type: string(r.Type), Dir: r.Dir, Created: r.Manifest.Created, Owner: r.Manifest.Owner,
				GitCommit: r.Manifest.GitCommit, CIJob: r.Manifest.CIJob, RetentionDays: r.Manifest.RetentionDays,
			}
			if r.ManifestErr != nil {
				entry.Note = r.ManifestErr.Error()
			}
			entries = append(entries, entry)
		}
	}

	if *jsonOut {
		if entries == nil {
			entries = []listEntry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fail("render list: %v", err)
		}
		fmt.Println(string(data))
		return 0
	}
	if len(entries) == 0 {
		fmt.Println("No allocations.")
		return 0
	}
	for _, entry := range entries {
		rel, err := filepath.Rel(e.cfg.ArtifactsRoot, entry.Dir)
		if err != nil {
			rel = entry.Dir
		}
		line := fmt.Sprintf("%-10s %-60s %s  %dd", entry.Type, rel, entry.Created.Local().Format(time.DateTime), entry.RetentionDays)
		switch {
		case entry.RemovedAt != nil:
			line = styleDim.Render(line + "  removed")
		case entry.Note != "":
			line += "  " + styleWarn.Render("(manifest fallback)")
		}
		fmt.Println(line)
	}
	return 0
}
