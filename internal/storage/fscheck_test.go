package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystemAllowsLocalFS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifacts", ".ledger.db")
	err := checkLocal(path, func(string) (string, error) {
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystemRejectsNetworkFS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifacts")
	err := checkLocal(path, func(string) (string, error) {
		return "nfs", nil
	})
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("expected ErrNetworkFilesystem, got %v", err)
	}
	for _, want := range []string{"nfs", "require a local filesystem", "artifacts_root"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckLocalFilesystemInspectsNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocal(filepath.Join(root, "a", "b", "c.db"), func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckLocalFilesystemEmptyPath(t *testing.T) {
	t.Parallel()

	if err := CheckLocalFilesystem(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProbeMountPropagatesDetectorFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("statfs unavailable")
	err := checkLocal(t.TempDir(), func(string) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected detector error, got %v", err)
	}
	if errors.Is(err, ErrNetworkFilesystem) {
		t.Fatal("detector failure must not read as a network mount")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "cifs", fs: "cifs", want: true},
		{name: "webdav padded", fs: " WebDAV ", want: true},
		{name: "ext4", fs: "ext4", want: false},
		{name: "linux magic hex", fs: "0xef53", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isNetworkFilesystem(tc.fs); got != tc.want {
				t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}
