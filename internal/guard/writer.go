// Package guard enforces path discipline on file writes. A Writer wraps an
// Opener and refuses any write-mode open the validator rejects; a Guard
// stacks Writers into LIFO scopes.
package guard

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/callsite"
	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/validator"
)

const selfPackage = "github.com/mattjoyce/pathwarden/internal/guard"

// writeFlags are the open flags that make an open write-capable.
const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// Opener opens files. *os.File is the only handle type so callers can use
// the result anywhere a file is expected.
type Opener interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
}

type osOpener struct{}

func (osOpener) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// OS opens files directly with os.OpenFile.
var OS Opener = osOpener{}

// PathViolation is returned when a write targets a non-canonical path.
type PathViolation struct {
	Path    string
	Caller  callsite.Frame
	Verdict validator.Verdict
	Hint    string
}

func (e *PathViolation) Error() string {
	return fmt.Sprintf("path violation: write to %s rejected by rule %s (%s) at %s; %s",
		e.Path, e.Verdict.Rule, e.Verdict.Reason, e.Caller, e.Hint)
}

// Is makes errors.Is(err, artifact.ErrPathViolation) hold.
func (e *PathViolation) Is(target error) bool { return target == artifact.ErrPathViolation }

// Writer validates write-mode opens before delegating to the next Opener.
// Read-only opens pass through untouched.
type Writer struct {
	validator *validator.Validator
	next      Opener
	scopeDir  string
	logger    *slog.Logger
}

var _ Opener = (*Writer)(nil)

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithScopeDir names the allocated directory writes are expected in; it
// is included in violation hints.
func WithScopeDir(dir string) WriterOption {
	return func(w *Writer) { w.scopeDir = dir }
}

// WithLogger sets the logger that reports violations.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// NewWriter wraps next. A nil next means OS.
func NewWriter(v *validator.Validator, next Opener, opts ...WriterOption) *Writer {
	if next == nil {
		next = OS
	}
	w := &Writer{
		validator: v,
		next:      next,
		logger:    log.WithComponent("guard"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OpenFile opens name after checking write-mode requests against the
// validator. On violation the next Opener is never called.
func (w *Writer) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	if flag&writeFlags != 0 {
		if err := w.check(name); err != nil {
			return nil, err
		}
	}
	return w.next.OpenFile(name, flag, perm)
}

// Check reports whether a write to name would be allowed, returning the
// *PathViolation it would fail with otherwise.
func (w *Writer) Check(name string) error {
	return w.check(name)
}

func (w *Writer) check(name string) error {
	verdict := w.validator.Classify(name)
	if verdict.Valid {
		return nil
	}
	hint := artifact.Remediation
	if w.scopeDir != "" {
		hint = fmt.Sprintf("write inside %s or %s", w.scopeDir, artifact.Remediation)
	}
	violation := &PathViolation{
		Path:    verdict.Path,
		Caller:  callsite.Outside(selfPackage),
		Verdict: verdict,
		Hint:    hint,
	}
	w.logger.Warn("rejected non-canonical write",
		"path", verdict.Path, "rule", verdict.Rule.String(), "caller", violation.Caller.String())
	return violation
}

// Create creates or truncates name through o, like os.Create.
func Create(o Opener, name string) (*os.File, error) {
	return o.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// WriteFile writes data to name through o, like os.WriteFile.
func WriteFile(o Opener, name string, data []byte, perm os.FileMode) error {
	f, err := o.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
