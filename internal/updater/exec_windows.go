//go:build windows

package updater

import "os/exec"

// setProcessGroup is a no-op on Windows; cancellation kills the direct child.
func setProcessGroup(cmd *exec.Cmd) {}
