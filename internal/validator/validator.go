// Package validator classifies filesystem paths as canonical (safe to
// write) or non-canonical. Classification is purely lexical: paths are
// made absolute and cleaned, but the filesystem is never consulted, so the
// same input always yields the same verdict.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/pathwarden/internal/artifact"
)

// Rule identifies which classification tier decided a verdict.
type Rule int

const (
	RuleCanonical   Rule = iota + 1 // under <root>/<known type>
	RuleSourceTree                  // under an allow-listed project source dir
	RuleProjectFile                 // direct child of the project root
	RuleTempDir                     // under a system temp directory
	RuleSystemDir                   // under a read-only system directory
	RuleDefault                     // nothing matched
)

func (r Rule) String() string {
	switch r {
	case RuleCanonical:
		return "canonical-artifact"
	case RuleSourceTree:
		return "source-tree"
	case RuleProjectFile:
		return "project-root-file"
	case RuleTempDir:
		return "system-temp"
	case RuleSystemDir:
		return "system-directory"
	case RuleDefault:
		return "default-deny"
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// Verdict is the outcome of classifying one path.
type Verdict struct {
	Path   string
	Valid  bool
	Rule   Rule
	Reason string
}

// Banned legacy naming patterns for direct children of the project root.
var (
	bannedPrefixes = []string{"test_", "fastvlm_test_", "analysis_"}
	bannedSuffixes = []string{"_results"}
)

var systemDirs = []string{"/dev", "/proc", "/sys", "/var", "/etc", "/usr", "/lib", "/opt", "/bin"}

// DefaultSourceDirs are the project directories writable without allocation.
var DefaultSourceDirs = []string{"src", "tools", "tests", ".git"}

// Validator holds the roots a classification is relative to.
type Validator struct {
	artifactsRoot string
	projectRoot   string
	sourceDirs    []string
	tempDirs      []string
}

// Option customizes a Validator during construction.
type Option func(*Validator)

// WithSourceDirs replaces the allow-listed source directories (relative to
// the project root).
func WithSourceDirs(dirs []string) Option {
	return func(v *Validator) {
		v.sourceDirs = v.sourceDirs[:0]
		for _, d := range dirs {
			v.sourceDirs = append(v.sourceDirs, filepath.Join(v.projectRoot, d))
		}
	}
}

// WithTempDirs replaces the set of system temp directories.
func WithTempDirs(dirs ...string) Option {
	return func(v *Validator) {
		v.tempDirs = cleanAll(dirs)
	}
}

// New builds a Validator for an artifacts root inside a project.
func New(artifactsRoot, projectRoot string, opts ...Option) *Validator {
	v := &Validator{
		artifactsRoot: absClean(artifactsRoot),
		projectRoot:   absClean(projectRoot),
		tempDirs:      cleanAll([]string{os.TempDir(), "/tmp", "/var/tmp"}),
	}
	for _, d := range DefaultSourceDirs {
		v.sourceDirs = append(v.sourceDirs, filepath.Join(v.projectRoot, d))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ArtifactsRoot returns the canonical root this validator accepts.
func (v *Validator) ArtifactsRoot() string { return v.artifactsRoot }

// ProjectRoot returns the project root this validator is anchored at.
func (v *Validator) ProjectRoot() string { return v.projectRoot }

// Validate reports whether path may be written.
func (v *Validator) Validate(path string) bool {
	return v.Classify(path).Valid
}

// Classify applies the rules in order and returns the first match.
func (v *Validator) Classify(path string) Verdict {
	p := absClean(path)

	if rel, ok := within(v.artifactsRoot, p); ok && rel != "." {
		first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
		if artifact.Type(first).Valid() {
			return Verdict{Path: p, Valid: true, Rule: RuleCanonical,
				Reason: fmt.Sprintf("inside canonical %s artifacts", first)}
		}
	}

	for _, dir := range v.sourceDirs {
		if _, ok := within(dir, p); ok {
			return Verdict{Path: p, Valid: true, Rule: RuleSourceTree,
				Reason: fmt.Sprintf("inside source directory %s", dir)}
		}
	}

	banned := ""
	if filepath.Dir(p) == v.projectRoot && p != v.projectRoot {
		banned = bannedPattern(filepath.Base(p))
		if banned == "" {
			return Verdict{Path: p, Valid: true, Rule: RuleProjectFile,
				Reason: "top-level project file"}
		}
	}

	verdict := v.deny(p)
	if banned != "" {
		verdict.Reason = fmt.Sprintf("project-root name matches banned legacy pattern %q; %s", banned, verdict.Reason)
	}
	return verdict
}

func (v *Validator) deny(p string) Verdict {
	for _, dir := range v.tempDirs {
		if _, ok := within(dir, p); ok {
			return Verdict{Path: p, Rule: RuleTempDir,
				Reason: fmt.Sprintf("system temp directory %s is not a canonical location", dir)}
		}
	}
	for _, dir := range systemDirs {
		if _, ok := within(dir, p); ok {
			return Verdict{Path: p, Rule: RuleSystemDir,
				Reason: fmt.Sprintf("system directory %s is read-only for artifacts", dir)}
		}
	}
	return Verdict{Path: p, Rule: RuleDefault,
		Reason: fmt.Sprintf("outside %s and the project source directories", v.artifactsRoot)}
}

func bannedPattern(name string) string {
	for _, prefix := range bannedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return prefix + "*"
		}
	}
	for _, suffix := range bannedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return "*" + suffix
		}
	}
	return ""
}

// within reports whether p is base or lies below it, returning the
// relative path.
func within(base, p string) (string, bool) {
	if base == "" {
		return "", false
	}
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func cleanAll(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		c := absClean(d)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
