//go:build unix

package daemon

import "syscall"

// detachedAttr starts the child in its own session, away from the
// terminal's process group and its SIGHUP.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
