// Package callsite locates the first stack frame outside a set of
// packages, so provenance and violation reports point at user code
// rather than at pathwarden internals.
package callsite

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Unknown is reported when no suitable frame exists.
const Unknown = "unknown"

const maxDepth = 32

// Frame is a resolved caller location.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Script returns the base name of the caller's source file.
func (f Frame) Script() string {
	if f.File == "" {
		return Unknown
	}
	return filepath.Base(f.File)
}

// FullPath returns the caller's source file path.
func (f Frame) FullPath() string {
	if f.File == "" {
		return Unknown
	}
	return f.File
}

func (f Frame) String() string {
	if f.File == "" {
		return Unknown
	}
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

// Outside returns the nearest frame whose function does not belong to any
// of the given import paths. Frames from _test.go files always count as
// callers, so package tests see themselves. The runtime is skipped.
func Outside(pkgs ...string) Frame {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !skipped(frame, pkgs) {
			return Frame{Function: frame.Function, File: frame.File, Line: frame.Line}
		}
		if !more {
			return Frame{}
		}
	}
}

func skipped(frame runtime.Frame, pkgs []string) bool {
	if strings.HasPrefix(frame.Function, "runtime.") {
		return true
	}
	if strings.HasSuffix(frame.File, "_test.go") {
		return false
	}
	fn := packagePath(frame.Function)
	for _, pkg := range pkgs {
		if fn == pkg {
			return true
		}
	}
	return false
}

// packagePath strips the function and receiver from a fully qualified
// symbol such as "example.com/a/b.(*T).M".
func packagePath(symbol string) string {
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return symbol
	}
	return symbol[:slash+1+dot]
}
