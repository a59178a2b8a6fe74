package guard

import (
	"errors"
	"os"
	"sync"

	"github.com/mattjoyce/pathwarden/internal/validator"
)

// ErrScopeOrder is returned when a scope is exited while a scope entered
// after it is still active.
var ErrScopeOrder = errors.New("guard scopes must exit in reverse order of entry")

// Guard holds the Opener currently in effect and layers validating scopes
// over it. Scopes on one Guard must be exited in LIFO order; separate
// Guards are independent.
type Guard struct {
	mu        sync.Mutex
	validator *validator.Validator
	current   Opener
	stack     []*Scope
}

var _ Opener = (*Guard)(nil)

// NewGuard returns a Guard whose base Opener is base (OS when nil).
func NewGuard(v *validator.Validator, base Opener) *Guard {
	if base == nil {
		base = OS
	}
	return &Guard{validator: v, current: base}
}

// Current returns the Opener in effect.
func (g *Guard) Current() Opener {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Depth returns the number of active scopes.
func (g *Guard) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stack)
}

// OpenFile opens through the Opener in effect.
func (g *Guard) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return g.Current().OpenFile(name, flag, perm)
}

// Enter installs a validating layer over the current Opener. dir is the
// directory callers are expected to write into.
func (g *Guard) Enter(dir string) *Scope {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := &Scope{guard: g, dir: dir, prev: g.current}
	g.current = NewWriter(g.validator, g.current, WithScopeDir(dir))
	g.stack = append(g.stack, s)
	return s
}

// Scope is an active validating layer.
type Scope struct {
	guard  *Guard
	dir    string
	prev   Opener
	exited bool
}

// Dir returns the directory the scope was entered with.
func (s *Scope) Dir() string { return s.dir }

// Exit restores the Opener that was in effect when the scope was entered.
// Exiting twice is a no-op. Exiting a scope that is not the innermost one
// returns ErrScopeOrder and leaves the Guard unchanged.
func (s *Scope) Exit() error {
	g := s.guard
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.exited {
		return nil
	}
	if n := len(g.stack); n == 0 || g.stack[n-1] != s {
		return ErrScopeOrder
	}
	g.stack = g.stack[:len(g.stack)-1]
	g.current = s.prev
	s.exited = true
	return nil
}

// Within runs fn inside a scope rooted at dir and exits the scope on every
// path, including panics. fn receives the Guard so its opens are
// validated.
func Within(g *Guard, dir string, fn func(o Opener) error) (err error) {
	s := g.Enter(dir)
	defer func() {
		if xerr := s.Exit(); xerr != nil && err == nil {
			err = xerr
		}
	}()
	return fn(g)
}
