package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path that resolved to a network mount.
var ErrNetworkFilesystem = errors.New("network filesystem")

// remoteFSTypes are the statfs names of mounts whose locking and rename
// semantics the ledger and cleanup lock cannot trust.
var remoteFSTypes = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// mount is the filesystem backing a path. Probed is the nearest existing
// ancestor, since the ledger file may not exist yet.
type mount struct {
	Probed string
	FSType string
}

func (m mount) remote() bool {
	return isNetworkFilesystem(m.FSType)
}

// CheckLocalFilesystem returns an error wrapping ErrNetworkFilesystem when
// path, or its nearest existing ancestor, sits on a network mount. Other
// failures (for example an unsupported platform) are returned unwrapped.
func CheckLocalFilesystem(path string) error {
	return checkLocal(path, detectFilesystemType)
}

func checkLocal(path string, detect func(string) (string, error)) error {
	m, err := probeMount(path, detect)
	if err != nil {
		return err
	}
	if m.remote() {
		return fmt.Errorf("%w: %q is on %q; the ledger and cleanup lock require a local filesystem. Point artifacts_root (or ledger.path) at local disk",
			ErrNetworkFilesystem, path, m.FSType)
	}
	return nil
}

func probeMount(path string, detect func(string) (string, error)) (mount, error) {
	if path == "" {
		return mount{}, errors.New("filesystem check: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return mount{}, fmt.Errorf("filesystem check %q: %w", path, err)
	}

	probed := abs
	for {
		_, statErr := os.Stat(probed)
		if statErr == nil {
			break
		}
		if !errors.Is(statErr, fs.ErrNotExist) {
			return mount{}, fmt.Errorf("filesystem check: %w", statErr)
		}
		parent := filepath.Dir(probed)
		if parent == probed {
			return mount{}, fmt.Errorf("filesystem check: no existing ancestor of %q", abs)
		}
		probed = parent
	}

	fsType, err := detect(probed)
	if err != nil {
		return mount{}, fmt.Errorf("filesystem check %q: %w", probed, err)
	}
	return mount{Probed: probed, FSType: fsType}, nil
}

func isNetworkFilesystem(fsType string) bool {
	name := strings.ToLower(strings.TrimSpace(fsType))
	for _, remote := range remoteFSTypes {
		if name == remote {
			return true
		}
	}
	return false
}
