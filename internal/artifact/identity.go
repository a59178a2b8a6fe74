package artifact

import (
	"context"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/pathwarden/internal/vcs"
)

// Environment variables consulted for the CI job id, in priority order.
const (
	EnvCIJobID     = "CI_JOB_ID"
	EnvGitHubRunID = "GITHUB_RUN_ID"
)

const (
	timestampLayout = "20060102_150405"
	unknownUsername = "unknown"
)

// Identity is the provenance stamped into every canonical directory name.
// It is derived once per process.
type Identity struct {
	Revision string
	Job      string
	PID      int
	Owner    string
}

var (
	identityOnce sync.Once
	processIdent Identity
)

// ProcessIdentity returns the identity of the running process, detecting
// it on first use. projectRoot is only consulted on the first call.
func ProcessIdentity(ctx context.Context, projectRoot string) Identity {
	identityOnce.Do(func() {
		processIdent = DetectIdentity(ctx, projectRoot, os.LookupEnv)
	})
	return processIdent
}

// DetectIdentity computes an Identity without caching. lookupEnv is
// injected so tests can fake CI environments.
func DetectIdentity(ctx context.Context, projectRoot string, lookupEnv func(string) (string, bool)) Identity {
	owner := currentUsername(lookupEnv)
	return Identity{
		Revision: vcs.NewRepository(projectRoot).ShortRevision(ctx),
		Job:      JobID(lookupEnv, owner),
		PID:      os.Getpid(),
		Owner:    owner,
	}
}

// JobID returns ci_<id>, gh_<id> or local_<username>. CI-supplied ids are
// reduced to [A-Za-z0-9._-] so they cannot add path segments.
func JobID(lookupEnv func(string) (string, bool), username string) string {
	if id := ciID(lookupEnv, EnvCIJobID); id != "" {
		return "ci_" + id
	}
	if id := ciID(lookupEnv, EnvGitHubRunID); id != "" {
		return "gh_" + id
	}
	return "local_" + username
}

var unsafeUsernameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func ciID(lookupEnv func(string) (string, bool), key string) string {
	v, ok := lookupEnv(key)
	if !ok {
		return ""
	}
	id := unsafeUsernameChars.ReplaceAllString(strings.TrimSpace(v), "_")
	// A bare run of dots would still resolve as "." or "..".
	if strings.Trim(id, "._") == "" {
		return ""
	}
	return id
}

func currentUsername(lookupEnv func(string) (string, bool)) string {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if name != "" {
			break
		}
		if v, ok := lookupEnv(key); ok {
			name = strings.TrimSpace(v)
		}
	}
	// Windows account names come back as DOMAIN\user.
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeUsernameChars.ReplaceAllString(name, "_")
	if name == "" {
		return unknownUsername
	}
	return name
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeContext lower-cases s and collapses every run of
// non-alphanumeric characters into a single underscore.
func SanitizeContext(s string) string {
	return nonAlnumRun.ReplaceAllString(strings.ToLower(s), "_")
}

// DirID builds [<context>_]<revision>_<job>_<pid>_<YYYYMMDD_HHMMSS>.
func DirID(contextLabel string, id Identity, at time.Time) string {
	parts := make([]string, 0, 5)
	if sanitized := SanitizeContext(contextLabel); sanitized != "" {
		parts = append(parts, sanitized)
	}
	parts = append(parts, id.Revision, id.Job, strconv.Itoa(id.PID), at.Format(timestampLayout))
	return strings.Join(parts, "_")
}
