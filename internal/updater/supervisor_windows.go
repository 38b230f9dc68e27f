//go:build windows

package updater

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// reexec starts a detached copy of the process and exits. Windows has no
// in-place exec.
func reexec(binary string, args, env []string) error {
	cmd := exec.Command(binary, args[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start replacement process: %w", err)
	}
	log.Info("replacement process started, exiting", "pid", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

func signalProcess(pid int, name string) error {
	return errors.New("signal-based reload is not supported on windows; set reload_command")
}
