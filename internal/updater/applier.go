package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Quertz/joker/internal/logging"
)

const (
	// DefaultIntegrateTimeout bounds merging the remote branch.
	DefaultIntegrateTimeout = 60 * time.Second
	// DefaultReconcileTimeout bounds the whole dependency reconcile step.
	DefaultReconcileTimeout = 120 * time.Second
)

// Reconciler refreshes runtime dependencies after the working copy changed.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Applier integrates the remote branch and reconciles dependencies.
type Applier struct {
	vcs              SourceControl
	reconciler       Reconciler
	IntegrateTimeout time.Duration
	ReconcileTimeout time.Duration
}

// NewApplier returns an Applier with the default timeouts. A nil reconciler
// skips the reconcile step.
func NewApplier(vcs SourceControl, reconciler Reconciler) *Applier {
	return &Applier{
		vcs:              vcs,
		reconciler:       reconciler,
		IntegrateTimeout: DefaultIntegrateTimeout,
		ReconcileTimeout: DefaultReconcileTimeout,
	}
}

// Apply integrates branch into the working copy, then reconciles
// dependencies. If reconcile fails, the working copy stays at the new
// revision and an *ApplyError with StageReconcile is returned.
func (a *Applier) Apply(ctx context.Context, branch string) error {
	if err := a.integrate(ctx, branch); err != nil {
		return &ApplyError{Stage: StageIntegrate, Branch: branch, Err: err}
	}

	if a.reconciler == nil {
		return nil
	}

	reconcileCtx, cancel := context.WithTimeout(ctx, a.ReconcileTimeout)
	defer cancel()
	if err := a.reconciler.Reconcile(reconcileCtx); err != nil {
		return &ApplyError{Stage: StageReconcile, Branch: branch, Err: timeoutCause(reconcileCtx, err)}
	}
	return nil
}

func (a *Applier) integrate(ctx context.Context, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, a.IntegrateTimeout)
	defer cancel()
	return timeoutCause(ctx, a.vcs.Integrate(ctx, branch))
}

// ExecutablePlaceholder in a reconcile command is replaced with the path of
// the running binary.
const ExecutablePlaceholder = "{executable}"

// CommandReconciler runs a fixed list of commands in the repository
// directory, stopping at the first failure.
type CommandReconciler struct {
	Dir      string
	Commands [][]string
}

// NewCommandReconciler splits each command on whitespace and substitutes
// ExecutablePlaceholder with the resolved path of the running binary.
func NewCommandReconciler(dir string, commands []string) (*CommandReconciler, error) {
	r := &CommandReconciler{Dir: dir}

	var executable string
	for _, line := range commands {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		for i, f := range fields {
			if !strings.Contains(f, ExecutablePlaceholder) {
				continue
			}
			if executable == "" {
				path, err := resolveExecutable()
				if err != nil {
					return nil, err
				}
				executable = path
			}
			fields[i] = strings.ReplaceAll(f, ExecutablePlaceholder, executable)
		}
		r.Commands = append(r.Commands, fields)
	}
	return r, nil
}

func (r *CommandReconciler) Reconcile(ctx context.Context) error {
	for _, argv := range r.Commands {
		start := time.Now()
		if _, err := runCommand(ctx, r.Dir, argv[0], argv[1:]...); err != nil {
			return err
		}
		log.Info("reconcile step finished", "command", commandLine(argv[0], argv[1:]), logging.KeyDurationMs, time.Since(start).Milliseconds())
	}
	return nil
}

func resolveExecutable() (string, error) {
	binary, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	binary, err = filepath.EvalSymlinks(binary)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return binary, nil
}
