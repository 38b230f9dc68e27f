package updater

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultLocalTimeout bounds resolving a revision from local refs.
	DefaultLocalTimeout = 10 * time.Second
	// DefaultFetchTimeout bounds synchronizing remote metadata.
	DefaultFetchTimeout = 30 * time.Second
)

// Probe resolves the local and remote revisions of the tracked branch.
type Probe struct {
	vcs          SourceControl
	LocalTimeout time.Duration
	FetchTimeout time.Duration
}

// NewProbe returns a Probe with the default timeouts.
func NewProbe(vcs SourceControl) *Probe {
	return &Probe{
		vcs:          vcs,
		LocalTimeout: DefaultLocalTimeout,
		FetchTimeout: DefaultFetchTimeout,
	}
}

// LocalRevision returns the revision checked out in the working copy.
func (p *Probe) LocalRevision(ctx context.Context) (RevisionID, error) {
	ctx, cancel := context.WithTimeout(ctx, p.LocalTimeout)
	defer cancel()

	rev, err := p.vcs.ResolveLocal(ctx)
	if err == nil && rev.IsZero() {
		err = ErrEmptyRevision
	}
	if err != nil {
		return "", &ProbeError{Op: "local", Err: timeoutCause(ctx, err)}
	}
	return rev, nil
}

// RemoteRevision fetches remote metadata for branch, then resolves its tip.
func (p *Probe) RemoteRevision(ctx context.Context, branch string) (RevisionID, error) {
	if err := p.synchronize(ctx, branch); err != nil {
		return "", &ProbeError{Op: "fetch", Branch: branch, Err: err}
	}

	resolveCtx, cancel := context.WithTimeout(ctx, p.LocalTimeout)
	defer cancel()

	rev, err := p.vcs.ResolveRemote(resolveCtx, branch)
	if err == nil && rev.IsZero() {
		err = ErrEmptyRevision
	}
	if err != nil {
		return "", &ProbeError{Op: "remote", Branch: branch, Err: timeoutCause(resolveCtx, err)}
	}
	return rev, nil
}

func (p *Probe) synchronize(ctx context.Context, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, p.FetchTimeout)
	defer cancel()
	return timeoutCause(ctx, p.vcs.Synchronize(ctx, branch))
}

// timeoutCause marks err as a timeout when ctx expired, so callers can test
// with errors.Is(err, ErrTimeout) whatever the backend returned.
func timeoutCause(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
