// Package vcs wraps the git CLI for the two questions pathwarden asks of
// version control: which commit is checked out, and whether a path is
// ignored. Every command targets an explicit directory via "git -C".
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// NoRevision is the sentinel revision used outside a git checkout.
const NoRevision = "nogit"

// queryTimeout bounds each git invocation; a hung git must not stall an
// allocation.
const queryTimeout = 5 * time.Second

// Repository is a git working tree rooted at dir.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string { return r.dir }

// Run executes a git command against the repository and returns stdout.
// Stderr is folded into the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ShortRevision returns the abbreviated HEAD commit, or NoRevision when
// git is unavailable or dir is not a checkout.
func (r *Repository) ShortRevision(ctx context.Context) string {
	out, err := r.Run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return NoRevision
	}
	rev := strings.TrimSpace(out)
	if rev == "" {
		return NoRevision
	}
	return rev
}

// IsIgnored reports whether path is excluded by the repository's ignore
// rules. git check-ignore exits 1 for "not ignored"; any other failure
// (no git, not a repo) is reported as not ignored. Existing directories
// get a trailing slash so directory-only patterns such as "build/" match.
func (r *Repository) IsIgnored(ctx context.Context, path string) bool {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = strings.TrimRight(path, "/") + "/"
	}
	_, err := r.Run(ctx, "check-ignore", "-q", path)
	return err == nil
}
