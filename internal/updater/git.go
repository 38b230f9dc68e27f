package updater

import (
	"context"
	"fmt"
	"strings"
)

// SourceControl is the version-control backend the updater drives. Callers
// impose timeouts through ctx.
type SourceControl interface {
	// IsWorkingCopy reports whether the repository directory is a checkout.
	IsWorkingCopy(ctx context.Context) bool
	// ResolveLocal returns the revision checked out in the working copy.
	ResolveLocal(ctx context.Context) (RevisionID, error)
	// Synchronize fetches remote metadata for branch without touching the
	// working tree.
	Synchronize(ctx context.Context, branch string) error
	// ResolveRemote returns the last fetched tip of branch.
	ResolveRemote(ctx context.Context, branch string) (RevisionID, error)
	// Integrate brings the working copy up to the remote tip of branch. It
	// must leave the working copy unchanged if that cannot be done cleanly.
	Integrate(ctx context.Context, branch string) error
}

// Git implements SourceControl with the git command line.
type Git struct {
	Dir    string
	Remote string
	Binary string
}

// NewGit returns a Git backend for the working copy in dir tracking remote.
func NewGit(dir, remote string) *Git {
	if remote == "" {
		remote = "origin"
	}
	return &Git{Dir: dir, Remote: remote, Binary: "git"}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	return runCommand(ctx, g.Dir, g.Binary, args...)
}

func (g *Git) IsWorkingCopy(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (g *Git) ResolveLocal(ctx context.Context) (RevisionID, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return "", err
	}
	return parseRevision(out)
}

func (g *Git) Synchronize(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "fetch", "--quiet", "--no-tags", g.Remote, branch)
	return err
}

func (g *Git) ResolveRemote(ctx context.Context, branch string) (RevisionID, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", g.trackingRef(branch)+"^{commit}")
	if err != nil {
		return "", err
	}
	return parseRevision(out)
}

// Integrate fast-forwards only. Local modifications or divergent history make
// git refuse before touching the working tree.
func (g *Git) Integrate(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "pull", "--ff-only", "--quiet", "--no-rebase", g.Remote, branch); err != nil {
		return fmt.Errorf("fast-forward to %s: %w", g.trackingRef(branch), err)
	}
	return nil
}

func (g *Git) trackingRef(branch string) string {
	return "refs/remotes/" + g.Remote + "/" + branch
}
