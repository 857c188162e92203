//go:build windows

package daemon

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// detachedAttr starts the child without a console in its own process group,
// so Ctrl+C in the launching console does not reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}
