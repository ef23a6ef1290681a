// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package discovery

import (
	"io/fs"
	"unsafe"

	"golang.org/x/sys/windows"
)

// processAlive walks the system process snapshot looking for pid.
// OpenProcess is unreliable here: access can be denied for processes
// that are very much alive, and handles to recently-exited processes
// can still open. The snapshot reflects the actual process table.
func processAlive(pid int) bool {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return false
	}
	for {
		if int(entry.ProcessID) == pid {
			return true
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			return false
		}
	}
}

// permissionsTooOpen is a no-op on Windows: the socket-info file lives
// under the user profile, which is access-controlled by ACLs rather
// than POSIX mode bits, and Go reports synthetic permissions here.
func permissionsTooOpen(fs.FileInfo) bool { return false }
