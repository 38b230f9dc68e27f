//go:build !windows

package updater

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

func reexec(binary string, args, env []string) error {
	return unix.Exec(binary, args, env)
}

func signalProcess(pid int, name string) error {
	if pid <= 1 {
		return fmt.Errorf("no supervising parent process (pid %d)", pid)
	}
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return fmt.Errorf("unknown signal %q", name)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("send %s to pid %d: %w", name, pid, err)
	}
	return nil
}
