// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package discovery

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything;
// EPERM means the process exists but belongs to another user, which
// still counts as alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// permissionsTooOpen reports whether the socket-info file is readable
// or writable by group or other. The file names a private IPC
// endpoint; any cross-user exposure disqualifies it.
func permissionsTooOpen(fileInfo fs.FileInfo) bool {
	return fileInfo.Mode().Perm()&0o077 != 0
}
