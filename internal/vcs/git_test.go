package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestShortRevisionOutsideRepository(t *testing.T) {
	t.Parallel()

	repo := NewRepository(t.TempDir())
	if got := repo.ShortRevision(context.Background()); got != NoRevision {
		t.Fatalf("ShortRevision() = %q, want %q", got, NoRevision)
	}
}

func TestIsIgnored(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	repo := NewRepository(dir)
	if _, err := repo.Run(context.Background(), "init", "-q"); err != nil {
		t.Skipf("git init failed: %v", err)
	}
	writeFile(t, filepath.Join(dir, ".gitignore"), "build/\n")
	if err := os.MkdirAll(filepath.Join(dir, "build"), 0o755); err != nil {
		t.Fatal(err)
	}

	if !repo.IsIgnored(context.Background(), filepath.Join(dir, "build")) {
		t.Fatal("expected build/ to be ignored")
	}
	if repo.IsIgnored(context.Background(), filepath.Join(dir, "src")) {
		t.Fatal("expected src to not be ignored")
	}
}

func TestIsIgnoredOutsideRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if NewRepository(dir).IsIgnored(context.Background(), filepath.Join(dir, "x")) {
		t.Fatal("paths outside a repository are never ignored")
	}
}
