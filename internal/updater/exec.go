package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxOutputSize caps captured stdout/stderr per command.
const maxOutputSize = 64 * 1024

// waitDelay bounds how long Run waits for I/O after the process is killed.
const waitDelay = 2 * time.Second

// runCommand runs name with args in dir and returns its stdout. The command
// runs in its own process group so a timeout kills any children it spawned.
// A deadline hit on ctx is reported as ErrTimeout.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxOutputSize}

	setProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	line := commandLine(name, args)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s: %w after %s", line, ErrTimeout, time.Since(start).Round(time.Millisecond))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", fmt.Errorf("%s: %w: %s", line, err, msg)
	}
	return "", fmt.Errorf("%s: %w", line, err)
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// limitedWriter wraps a buffer with a size limit
type limitedWriter struct {
	buf     *bytes.Buffer
	limit   int
	written int
}

func (w *limitedWriter) Write(p []byte) (n int, err error) {
	if w.written >= w.limit {
		return len(p), nil
	}

	remaining := w.limit - w.written
	chunk := p
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
	}

	n, err = w.buf.Write(chunk)
	w.written += n
	// Report the full length so exec does not fail with a short write.
	return len(p), err
}
