//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxMountNames maps the statfs magic of network mounts to the names
// networkFilesystems knows. Anything else is reported as its hex magic.
var linuxMountNames = map[uint32]string{
	unix.NFS_SUPER_MAGIC:   "nfs",
	unix.CIFS_MAGIC_NUMBER: "cifs",
	unix.SMB_SUPER_MAGIC:   "smbfs",
	unix.SMB2_MAGIC_NUMBER: "smb2",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	magic := uint32(st.Type)
	if name, ok := linuxMountNames[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
