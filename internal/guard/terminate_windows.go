//go:build windows

package guard

import (
	"errors"
	"os"
	"syscall"
)

var errNoProcessGroups = errors.New("process groups are not supported")

func getpgid(int) (int, error) {
	return 0, errNoProcessGroups
}

// kill ignores sig; Windows can only terminate the process outright.
func kill(pid int, _ syscall.Signal) error {
	if pid < 0 {
		return errNoProcessGroups
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
