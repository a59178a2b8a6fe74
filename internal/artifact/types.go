// Package artifact defines the closed set of artifact categories, the
// process identity stamped into every canonical directory name and the
// error taxonomy shared by the path discipline packages.
package artifact

import (
	"fmt"
	"strings"
)

// Type is an artifact category. It is always the first path segment below
// the canonical artifacts root.
type Type string

const (
	TypeAnalysis  Type = "analysis"
	TypeVision    Type = "vision"
	TypeTest      Type = "test"
	TypeBenchmark Type = "benchmark"
	TypeTmp       Type = "tmp"
)

// Types lists every valid category in setup order.
var Types = []Type{TypeAnalysis, TypeVision, TypeTest, TypeBenchmark, TypeTmp}

// Valid reports whether t is one of the known categories.
func (t Type) Valid() bool {
	switch t {
	case TypeAnalysis, TypeVision, TypeTest, TypeBenchmark, TypeTmp:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// ParseType converts a user-supplied name into a Type.
func ParseType(name string) (Type, error) {
	t := Type(strings.TrimSpace(name))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q (expected one of %s)", ErrInvalidArtifactType, name, typeList())
	}
	return t, nil
}

func typeList() string {
	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
