package updater

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Quertz/joker/internal/health"
	"github.com/Quertz/joker/internal/logging"
)

var log = logging.L("updater")

const (
	// DefaultStopTimeout bounds how long Stop waits for the polling goroutine.
	DefaultStopTimeout = 5 * time.Second
	// DefaultGracePeriod is the pause between a successful apply and restart.
	DefaultGracePeriod = 5 * time.Second
	// DefaultFaultPause is the pause after a cycle fails unexpectedly.
	DefaultFaultPause = 60 * time.Second
)

// Config holds updater configuration
type Config struct {
	Enabled       bool
	Branch        string
	CheckInterval time.Duration
	StopTimeout   time.Duration
	GracePeriod   time.Duration
	FaultPause    time.Duration
}

func (c *Config) applyDefaults() {
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.FaultPause <= 0 {
		c.FaultPause = DefaultFaultPause
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 48 * time.Hour
	}
}

// CycleObserver is told the outcome of every completed cycle.
type CycleObserver interface {
	ObserveCycle(result CycleResult, checkedAt time.Time, elapsed time.Duration)
}

// Option customizes an Updater.
type Option func(*Updater)

// WithObserver reports cycle outcomes to o.
func WithObserver(o CycleObserver) Option {
	return func(u *Updater) { u.observer = o }
}

// WithHealth reports updater health to m under health.ComponentUpdater.
func WithHealth(m *health.Monitor) Option {
	return func(u *Updater) { u.health = m }
}

// Status is a consistent snapshot of the updater state.
type Status struct {
	Enabled            bool        `json:"enabled" yaml:"enabled"`
	Running            bool        `json:"running" yaml:"running"`
	CurrentCommit      *string     `json:"current_commit" yaml:"current_commit"`
	LastCheck          *time.Time  `json:"last_check" yaml:"last_check"`
	CheckIntervalHours float64     `json:"check_interval_hours" yaml:"check_interval_hours"`
	Branch             string      `json:"branch" yaml:"branch"`
	RestartMode        RestartMode `json:"restart_mode" yaml:"restart_mode"`
}

// Updater polls the tracked branch, applies new revisions and restarts the
// process. One Updater is created per process and passed to whoever needs
// Start, Stop or Status.
type Updater struct {
	cfg        Config
	vcs        SourceControl
	probe      *Probe
	applier    *Applier
	supervisor Supervisor
	observer   CycleObserver
	health     *health.Monitor
	now        func() time.Time

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.RWMutex
	running         bool
	currentRevision RevisionID
	lastCheck       time.Time
}

// New creates an Updater and records the revision currently checked out.
// The probe and applier use default timeouts; adjust them via Probe() and
// Applier() before Start.
func New(ctx context.Context, cfg Config, vcs SourceControl, reconciler Reconciler, supervisor Supervisor, opts ...Option) *Updater {
	cfg.applyDefaults()
	u := &Updater{
		cfg:        cfg,
		vcs:        vcs,
		probe:      NewProbe(vcs),
		applier:    NewApplier(vcs, reconciler),
		supervisor: supervisor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}

	if vcs.IsWorkingCopy(ctx) {
		rev, err := u.probe.LocalRevision(ctx)
		if err != nil {
			log.Warn("could not resolve current revision", logging.KeyError, err)
		} else {
			u.currentRevision = rev
		}
	}

	if u.health != nil {
		msg := "idle"
		if !cfg.Enabled {
			msg = "auto-update disabled"
		}
		u.health.Update(health.ComponentUpdater, health.Healthy, msg)
	}
	return u
}

// Probe returns the probe used by the polling loop.
func (u *Updater) Probe() *Probe { return u.probe }

// Applier returns the applier used by the polling loop.
func (u *Updater) Applier() *Applier { return u.applier }

// Start spawns the polling goroutine. It returns false, logging why, when
// auto-update is disabled, the loop is already running, a previous loop is
// still shutting down, or the repository is not a git working copy.
func (u *Updater) Start() bool {
	u.lifeMu.Lock()
	defer u.lifeMu.Unlock()

	if !u.cfg.Enabled {
		log.Info("auto-update disabled, not starting")
		return false
	}
	if u.isRunning() {
		log.Debug("auto-updater already running")
		return false
	}
	if u.done != nil {
		select {
		case <-u.done:
		default:
			log.Warn("previous polling task still finishing, not starting")
			return false
		}
	}

	checkCtx, cancel := context.WithTimeout(context.Background(), u.probe.LocalTimeout)
	isRepo := u.vcs.IsWorkingCopy(checkCtx)
	cancel()
	if !isRepo {
		log.Warn("not a git working copy, auto-update inactive", logging.KeyError, ErrNotWorkingCopy)
		if u.health != nil {
			u.health.Update(health.ComponentUpdater, health.Healthy, "not a git working copy")
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	u.cancel = cancel
	u.done = done

	u.mu.Lock()
	u.running = true
	u.mu.Unlock()

	go u.loop(ctx, done)
	return true
}

// Stop signals the polling goroutine and waits up to StopTimeout for it to
// exit. An in-flight probe or apply is not interrupted; if it outlasts the
// timeout Stop returns anyway. Safe to call when not running.
func (u *Updater) Stop() {
	u.lifeMu.Lock()
	defer u.lifeMu.Unlock()

	if !u.isRunning() {
		return
	}

	u.cancel()
	u.mu.Lock()
	u.running = false
	u.mu.Unlock()

	timer := time.NewTimer(u.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-u.done:
		log.Info("auto-updater stopped")
	case <-timer.C:
		log.Warn("auto-updater did not stop in time, continuing shutdown", "timeout", u.cfg.StopTimeout)
	}
}

// Status returns a snapshot of the updater state read under one lock.
func (u *Updater) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()

	s := Status{
		Enabled:            u.cfg.Enabled,
		Running:            u.running,
		CheckIntervalHours: u.cfg.CheckInterval.Hours(),
		Branch:             u.cfg.Branch,
	}
	if u.supervisor != nil {
		s.RestartMode = u.supervisor.Mode()
	}
	if !u.currentRevision.IsZero() {
		short := u.currentRevision.Short()
		s.CurrentCommit = &short
	}
	if !u.lastCheck.IsZero() {
		last := u.lastCheck
		s.LastCheck = &last
	}
	return s
}

func (u *Updater) isRunning() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.running
}

func (u *Updater) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log.Info("auto-updater started", logging.KeyBranch, u.cfg.Branch, "interval", u.cfg.CheckInterval)

	for ctx.Err() == nil {
		wait := u.cfg.CheckInterval
		if !u.cycle(ctx) {
			wait = u.cfg.FaultPause
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// cycle runs one poll cycle and, after a successful apply, the restart. It
// returns false if the cycle panicked.
func (u *Updater) cycle(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("update cycle failed unexpectedly, pausing",
				"panic", r,
				"pause", u.cfg.FaultPause,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()

	start := time.Now()
	checkedAt, result := u.runCycle(ctx)
	if u.observer != nil {
		u.observer.ObserveCycle(result, checkedAt, time.Since(start))
	}

	if result == UpdateApplied {
		u.restartAfterGrace(ctx)
	}
	return true
}

// runCycle probes and, if the remote moved, applies. Stop does not interrupt
// it: the operations run on a context detached from loop cancellation and are
// bounded by their own timeouts.
func (u *Updater) runCycle(ctx context.Context) (time.Time, CycleResult) {
	opCtx := context.WithoutCancel(ctx)
	checkedAt := u.markChecked()
	branch := u.cfg.Branch

	current := u.current()
	if current.IsZero() {
		local, err := u.probe.LocalRevision(opCtx)
		if err != nil {
			log.Warn("local revision unavailable, treating as no update", logging.KeyError, err)
			return checkedAt, ProbeFailed
		}
		u.setCurrent(local)
		current = local
	}

	remote, err := u.probe.RemoteRevision(opCtx, branch)
	if err != nil {
		log.Warn("remote revision unavailable, treating as no update", logging.KeyBranch, branch, logging.KeyError, err)
		return checkedAt, ProbeFailed
	}

	if !UpdateAvailable(current, remote) {
		log.Debug("no update available", logging.KeyRevision, current.Short())
		u.reportHealth(health.Healthy, "up to date at "+current.Short())
		return checkedAt, NoUpdateAvailable
	}

	log.Info("update available", "from", current.Short(), "to", remote.Short(), logging.KeyBranch, branch)
	if err := u.applier.Apply(opCtx, branch); err != nil {
		log.Error("failed to apply update", logging.KeyBranch, branch, logging.KeyError, err)
		u.reportHealth(health.Degraded, err.Error())
		return checkedAt, ApplyFailed
	}

	u.setCurrent(remote)
	log.Info("update applied", logging.KeyRevision, remote.Short())
	u.reportHealth(health.Healthy, "updated to "+remote.Short())
	return checkedAt, UpdateApplied
}

func (u *Updater) restartAfterGrace(ctx context.Context) {
	if u.supervisor == nil {
		log.Warn("no supervisor configured, new revision takes effect on next launch")
		return
	}

	log.Info("restarting after grace period", "grace", u.cfg.GracePeriod, "mode", u.supervisor.Mode())
	if !sleep(ctx, u.cfg.GracePeriod) {
		log.Warn("stop requested during grace period, skipping restart; new revision takes effect on next launch")
		return
	}
	if err := u.supervisor.Restart(); err != nil {
		log.Error("restart failed", logging.KeyError, err)
	}
}

// markChecked records the start of a cycle. lastCheck never moves backwards.
func (u *Updater) markChecked() time.Time {
	now := u.now()
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.After(u.lastCheck) {
		u.lastCheck = now
	}
	return u.lastCheck
}

func (u *Updater) current() RevisionID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.currentRevision
}

func (u *Updater) setCurrent(rev RevisionID) {
	u.mu.Lock()
	u.currentRevision = rev
	u.mu.Unlock()
}

func (u *Updater) reportHealth(status health.Status, msg string) {
	if u.health != nil {
		u.health.Update(health.ComponentUpdater, status, msg)
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
