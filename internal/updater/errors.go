package updater

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is wrapped into a failure caused by a command running past its deadline.
	ErrTimeout = errors.New("timed out")
	// ErrNotWorkingCopy is returned when the repository directory is not a git checkout.
	ErrNotWorkingCopy = errors.New("not a git working copy")
	// ErrEmptyRevision is returned when git prints no usable revision.
	ErrEmptyRevision = errors.New("empty revision")
)

// ProbeError is a failure to resolve the local or remote revision.
type ProbeError struct {
	Op     string // "local", "fetch" or "remote"
	Branch string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Branch == "" {
		return fmt.Sprintf("probe %s revision: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("probe %s revision of %s: %v", e.Op, e.Branch, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Apply stages.
const (
	StageIntegrate = "integrate"
	StageReconcile = "reconcile"
)

// ApplyError is a failure to integrate the remote branch or to reconcile
// dependencies afterwards. A reconcile failure leaves the working copy at the
// new revision.
type ApplyError struct {
	Stage  string
	Branch string
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s (%s): %v", e.Branch, e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// RestartError is a failure to hand the process over to its replacement.
type RestartError struct {
	Mode RestartMode
	Err  error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart (%s): %v", e.Mode, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }
