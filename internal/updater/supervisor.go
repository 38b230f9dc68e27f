package updater

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// RestartMode selects how the process is restarted after an update.
type RestartMode string

const (
	// ModeReExec replaces the process image with the same binary and arguments.
	ModeReExec RestartMode = "reexec"
	// ModeGracefulReload asks a supervising process manager to reload us.
	ModeGracefulReload RestartMode = "reload"
)

// reloadCommandTimeout bounds a configured reload command.
const reloadCommandTimeout = 60 * time.Second

// Supervisor restarts the running service. Restart may not return on success.
type Supervisor interface {
	Mode() RestartMode
	Restart() error
}

// SupervisorConfig selects and parameterizes a Supervisor.
type SupervisorConfig struct {
	Mode          string
	ReloadCommand string
	ReloadSignal  string
	Dir           string
}

// NewSupervisor builds the Supervisor for cfg.Mode.
func NewSupervisor(cfg SupervisorConfig) (Supervisor, error) {
	switch RestartMode(strings.ToLower(cfg.Mode)) {
	case ModeReExec, "":
		return NewReExec()
	case ModeGracefulReload:
		return &GracefulReload{
			Command: strings.Fields(cfg.ReloadCommand),
			Signal:  cfg.ReloadSignal,
			Dir:     cfg.Dir,
		}, nil
	default:
		return nil, fmt.Errorf("unknown restart mode %q", cfg.Mode)
	}
}

// ReExec restarts by launching the same executable with identical arguments
// and environment in place of the current process.
type ReExec struct {
	Executable string
	Args       []string
	Env        []string
}

// NewReExec captures the running binary, os.Args and the environment.
func NewReExec() (*ReExec, error) {
	binary, err := resolveExecutable()
	if err != nil {
		return nil, err
	}
	args := append([]string(nil), os.Args...)
	if len(args) == 0 {
		args = []string{binary}
	}
	return &ReExec{Executable: binary, Args: args, Env: os.Environ()}, nil
}

func (r *ReExec) Mode() RestartMode { return ModeReExec }

// Restart only returns on failure.
func (r *ReExec) Restart() error {
	log.Info("re-executing", "executable", r.Executable, "args", r.Args)
	if err := reexec(r.Executable, r.Args, r.Env); err != nil {
		return &RestartError{Mode: ModeReExec, Err: err}
	}
	return nil
}

// GracefulReload hands the restart to a supervising process manager, either
// by running Command or, when no command is set, by sending Signal to Target
// (the parent process when zero).
type GracefulReload struct {
	Command []string
	Signal  string
	Dir     string
	Target  int
}

func (g *GracefulReload) Mode() RestartMode { return ModeGracefulReload }

func (g *GracefulReload) Restart() error {
	if len(g.Command) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), reloadCommandTimeout)
		defer cancel()
		log.Info("requesting reload", "command", commandLine(g.Command[0], g.Command[1:]))
		if _, err := runCommand(ctx, g.Dir, g.Command[0], g.Command[1:]...); err != nil {
			return &RestartError{Mode: ModeGracefulReload, Err: err}
		}
		return nil
	}

	signal := g.Signal
	if signal == "" {
		signal = "SIGHUP"
	}
	target := g.Target
	if target == 0 {
		target = os.Getppid()
	}
	log.Info("requesting reload", "signal", signal, "pid", target)
	if err := signalProcess(target, signal); err != nil {
		return &RestartError{Mode: ModeGracefulReload, Err: err}
	}
	return nil
}
