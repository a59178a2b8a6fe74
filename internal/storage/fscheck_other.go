//go:build !darwin && !linux

package storage

import (
	"errors"
	"runtime"
)

// errDetectUnsupported is returned where no statfs equivalent is wired.
// Callers treat it as "unknown", never as a network mount.
var errDetectUnsupported = errors.New("filesystem detection unsupported on " + runtime.GOOS)

func detectFilesystemType(string) (string, error) {
	return "", errDetectUnsupported
}
