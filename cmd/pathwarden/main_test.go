package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

type project struct {
	dir    string
	config string
	root   string
}

func newProject(t *testing.T, extraConfig string) project {
	t.Helper()
	t.Setenv(envQuiet, "1")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".pathwarden.yaml")
	content := "artifacts_root: artifacts\ndefault_retention_days: 7\n" + extraConfig
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return project{dir: dir, config: cfgPath, root: filepath.Join(dir, "artifacts")}
}

func (p project) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int {
		return runCLI(append(args, "--config", p.config))
	})
}

func TestCreatePrintsCanonicalPath(t *testing.T) {
	p := newProject(t, "")

	code, stdout, stderr := p.run(t, "create", "test", "My Run")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	dir := strings.TrimSpace(stdout)
	assert.True(t, strings.HasPrefix(dir, filepath.Join(p.root, "test")+string(filepath.Separator)), dir)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "my_run_"), dir)
	assert.FileExists(t, filepath.Join(dir, "manifest.json"))

	code, stdout, _ = p.run(t, "validate", filepath.Join(dir, "result.json"))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "canonical-artifact")
}

func TestCreateWithRetentionStampsManifest(t *testing.T) {
	p := newProject(t, "")

	code, stdout, stderr := p.run(t, "create", "benchmark", "long", "--retention", "30")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	data, err := os.ReadFile(filepath.Join(strings.TrimSpace(stdout), "manifest.json"))
	require.NoError(t, err)
	var m struct {
		RetentionDays int `json:"retention_days"`
	}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 30, m.RetentionDays)
}

func TestCreateRejectsUnknownType(t *testing.T) {
	p := newProject(t, "")

	code, _, stderr := p.run(t, "create", "reports", "x")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid artifact type")
}

func TestCreateUsage(t *testing.T) {
	p := newProject(t, "")

	code, _, stderr := p.run(t, "create", "test")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: pathwarden create")
}

func TestValidateRejectsNonCanonicalPaths(t *testing.T) {
	p := newProject(t, "")

	cases := []struct {
		path string
		rule string
	}{
		{path: "/tmp/output.json", rule: "system-temp"},
		{path: filepath.Join(p.dir, "test_output_1", "x"), rule: "rule"},
	}
	for _, tc := range cases {
		code, stdout, _ := p.run(t, "validate", tc.path)
		assert.Equal(t, 1, code, tc.path)
		assert.Contains(t, stdout, "INVALID")
		assert.Contains(t, stdout, tc.rule)
		assert.Contains(t, stdout, "pathwarden create")
	}

	code, stdout, _ := p.run(t, "validate", filepath.Join(p.dir, "src", "foo.go"))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "source-tree")
}

func TestSetupIsIdempotent(t *testing.T) {
	p := newProject(t, "")

	code, stdout, stderr := p.run(t, "setup")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "created")
	for _, typ := range []string{"analysis", "vision", "test", "benchmark", "tmp"} {
		assert.DirExists(t, filepath.Join(p.root, typ))
	}
	assert.FileExists(t, filepath.Join(p.root, ".gitignore"))

	code, stdout, _ = p.run(t, "setup")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "already set up")
}

func TestCleanupEmptiesTmp(t *testing.T) {
	p := newProject(t, "")

	code, _, stderr := p.run(t, "create", "tmp", "scratch")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	code, _, stderr = p.run(t, "create", "analysis", "keep")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, stderr := p.run(t, "cleanup", "--days", "3")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Removed 1 director(ies) (expired: 0, tmp: 1)")

	code, stdout, _ = p.run(t, "cleanup")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Removed 0 director(ies)")

	entries, err := os.ReadDir(filepath.Join(p.root, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupFailsWhenLockHeld(t *testing.T) {
	p := newProject(t, "")
	lockPath := filepath.Join(p.root, "tmp", ".cleanup.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getppid())), 0o644))

	code, _, stderr := p.run(t, "cleanup")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already running")
	assert.FileExists(t, lockPath)
}

func TestCleanupRejectsNegativeDays(t *testing.T) {
	p := newProject(t, "")
	code, _, stderr := p.run(t, "create", "analysis", "keep")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, _, stderr = p.run(t, "cleanup", "--days=-3")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--days must not be negative")

	entries, err := os.ReadDir(filepath.Join(p.root, "analysis"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanupRejectsUnknownType(t *testing.T) {
	p := newProject(t, "")

	code, _, stderr := p.run(t, "cleanup", "--type", "reports")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid artifact type")
}

func TestCheckReportsSprawl(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(p.root, "test"), 0o755))

	code, stdout, _ := p.run(t, "check", p.dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "no artifact sprawl")

	stray := filepath.Join(p.dir, "tools", "artifacts")
	require.NoError(t, os.MkdirAll(stray, 0o755))

	code, stdout, _ = p.run(t, "check")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "SPRAWL")
	assert.Contains(t, stdout, stray)
}

func TestDoctorJSON(t *testing.T) {
	p := newProject(t, "")
	code, _, stderr := p.run(t, "setup")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, stderr := p.run(t, "doctor", "--json")
	require.Equal(t, 0, code, "stdout: %s stderr: %s", stdout, stderr)

	var result struct {
		Valid bool   `json:"valid"`
		Root  string `json:"root"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, p.root, result.Root)
}

func TestDoctorFailsWithoutLayout(t *testing.T) {
	p := newProject(t, "")

	code, stdout, _ := p.run(t, "doctor")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "pathwarden setup")
}

func TestDoctorDetectsTamperedManifest(t *testing.T) {
	p := newProject(t, "ledger:\n  enabled: true\n")
	code, _, stderr := p.run(t, "setup")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	code, stdout, stderr := p.run(t, "create", "vision", "frames")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	manifestPath := filepath.Join(strings.TrimSpace(stdout), "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`{"created":"2020-01-01T00:00:00Z","retention_days":999}`), 0o644))

	code, stdout, _ = p.run(t, "doctor")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "manifest changed since allocation")
}

func TestListFromDisk(t *testing.T) {
	p := newProject(t, "")
	code, stdout, stderr := p.run(t, "create", "analysis", "one")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	dir := strings.TrimSpace(stdout)

	code, stdout, _ = p.run(t, "list", "--json")
	require.Equal(t, 0, code)
	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, dir, entries[0].Dir)
	assert.Equal(t, "analysis", entries[0].Type)

	code, stdout, _ = p.run(t, "list", "--type", "vision")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "No allocations.")
}

func TestListFromLedgerIncludesRemoved(t *testing.T) {
	p := newProject(t, "ledger:\n  enabled: true\n")
	code, stdout, stderr := p.run(t, "create", "tmp", "scratch")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	dir := strings.TrimSpace(stdout)

	code, _, stderr = p.run(t, "cleanup")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, _ = p.run(t, "list", "--json")
	require.Equal(t, 0, code)
	assert.JSONEq(t, "[]", stdout)

	code, stdout, _ = p.run(t, "list", "--json", "--all")
	require.Equal(t, 0, code)
	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, dir, entries[0].Dir)
	assert.NotNil(t, entries[0].RemovedAt)
	assert.NotEmpty(t, entries[0].Fingerprint)
}

func TestBannerRespectsQuiet(t *testing.T) {
	p := newProject(t, "")
	t.Setenv(envQuiet, "0")

	code, _, stderr := p.run(t, "setup")
	require.Equal(t, 0, code)
	assert.Contains(t, stderr, "generated output belongs under")

	t.Setenv(envQuiet, "1")
	_, _, stderr = p.run(t, "setup")
	assert.NotContains(t, stderr, "generated output belongs under")
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.NotEmpty(t, info.Version)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}
