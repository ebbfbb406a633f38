//go:build !windows

package guard

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func getpgid(pid int) (int, error) {
	return unix.Getpgid(pid)
}

// kill follows kill(2): a negative pid addresses the process group.
func kill(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}
