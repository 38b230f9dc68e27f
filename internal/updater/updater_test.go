package updater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Quertz/joker/internal/health"
)

const (
	revA RevisionID = "aaaa1111"
	revB RevisionID = "bbbb2222"
)

func testConfig() Config {
	return Config{
		Enabled:       true,
		Branch:        "main",
		CheckInterval: time.Hour,
		StopTimeout:   time.Second,
		GracePeriod:   time.Millisecond,
		FaultPause:    time.Hour,
	}
}

func newTestUpdater(t *testing.T, cfg Config, vcs *fakeVCS, rec *fakeReconciler, sup *fakeSupervisor, opts ...Option) *Updater {
	t.Helper()
	u := New(context.Background(), cfg, vcs, rec, sup, opts...)
	u.Probe().FetchTimeout = 50 * time.Millisecond
	u.Probe().LocalTimeout = 50 * time.Millisecond
	t.Cleanup(u.Stop)
	return u
}

func waitFor(t *testing.T, ch <-chan CycleResult, want CycleResult) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for cycle result %s", want)
		}
	}
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultStopTimeout)
	assert.Equal(t, 5*time.Second, DefaultGracePeriod)
	assert.Equal(t, 60*time.Second, DefaultFaultPause)
	assert.Equal(t, 10*time.Second, DefaultLocalTimeout)
	assert.Equal(t, 30*time.Second, DefaultFetchTimeout)
	assert.Equal(t, 60*time.Second, DefaultIntegrateTimeout)
	assert.Equal(t, 120*time.Second, DefaultReconcileTimeout)

	u := New(context.Background(), Config{Enabled: true, Branch: "main"}, &fakeVCS{local: revA}, nil, nil)
	assert.Equal(t, DefaultGracePeriod, u.cfg.GracePeriod)
	assert.Equal(t, DefaultStopTimeout, u.cfg.StopTimeout)
	assert.Equal(t, DefaultFaultPause, u.cfg.FaultPause)
}

func TestNewRecordsCurrentRevision(t *testing.T) {
	u := newTestUpdater(t, testConfig(), &fakeVCS{local: revA, remote: revA}, &fakeReconciler{}, newFakeSupervisor())

	st := u.Status()
	require.NotNil(t, st.CurrentCommit)
	assert.Equal(t, "aaaa1111", *st.CurrentCommit)
	assert.Nil(t, st.LastCheck, "no cycle has run yet")
	assert.False(t, st.Running)
}

func TestCycleNoUpdateWhenRevisionsMatch(t *testing.T) {
	vcs := &fakeVCS{local: revA, remote: revA}
	rec := &fakeReconciler{}
	u := newTestUpdater(t, testConfig(), vcs, rec, newFakeSupervisor())

	_, result := u.runCycle(context.Background())

	assert.Equal(t, NoUpdateAvailable, result)
	_, integrated, _, _ := vcs.snapshot()
	assert.Zero(t, integrated)
	calls, _ := rec.state()
	assert.Zero(t, calls)
	assert.Equal(t, revA, u.current())
}

func TestNoUpdateNeverAppliesOrRestarts(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revA}
	rec := &fakeReconciler{}
	sup := newFakeSupervisor()
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, vcs, rec, sup, WithObserver(obs))

	require.True(t, u.Start())
	for i := 0; i < 3; i++ {
		waitFor(t, obs.seen, NoUpdateAvailable)
	}
	u.Stop()

	_, integrated, _, _ := vcs.snapshot()
	calls, _ := rec.state()
	assert.Zero(t, integrated)
	assert.Zero(t, calls)
	assert.Zero(t, sup.count())
}

func TestUpdateAppliedRestartsOnceAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.GracePeriod = 100 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revB}
	rec := &fakeReconciler{}
	sup := newFakeSupervisor()
	u := newTestUpdater(t, cfg, vcs, rec, sup)

	require.True(t, u.Start())

	select {
	case <-sup.restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("restart was not requested")
	}

	_, appliedAt := rec.state()
	sup.mu.Lock()
	restartedAt := sup.at
	sup.mu.Unlock()
	assert.GreaterOrEqual(t, restartedAt.Sub(appliedAt), cfg.GracePeriod)

	u.Stop()
	assert.Equal(t, 1, sup.count())

	st := u.Status()
	require.NotNil(t, st.CurrentCommit)
	assert.Equal(t, "bbbb2222", *st.CurrentCommit)
	local, integrated, _, _ := vcs.snapshot()
	assert.Equal(t, revB, local)
	assert.Equal(t, 1, integrated)
}

func TestRemoteTimeoutIsProbeFailed(t *testing.T) {
	vcs := &fakeVCS{local: revA, remote: revB, blockSync: true}
	rec := &fakeReconciler{}
	sup := newFakeSupervisor()
	u := newTestUpdater(t, testConfig(), vcs, rec, sup)

	var result CycleResult
	require.NotPanics(t, func() {
		_, result = u.runCycle(context.Background())
	})

	assert.Equal(t, ProbeFailed, result)
	_, integrated, _, _ := vcs.snapshot()
	assert.Zero(t, integrated)
	calls, _ := rec.state()
	assert.Zero(t, calls)
	assert.Zero(t, sup.count())
	assert.Equal(t, revA, u.current())
}

func TestProbeFailureLeavesHealthAlone(t *testing.T) {
	mon := health.NewMonitor()
	vcs := &fakeVCS{local: revA, remote: revB, syncErr: errors.New("could not resolve host")}
	u := newTestUpdater(t, testConfig(), vcs, &fakeReconciler{}, newFakeSupervisor(), WithHealth(mon))

	_, result := u.runCycle(context.Background())

	assert.Equal(t, ProbeFailed, result)
	assert.Equal(t, health.Healthy, mon.Overall())
}

func TestReconcileFailureIsApplyFailed(t *testing.T) {
	mon := health.NewMonitor()
	vcs := &fakeVCS{local: revA, remote: revB}
	rec := &fakeReconciler{err: errReconcile}
	sup := newFakeSupervisor()
	u := newTestUpdater(t, testConfig(), vcs, rec, sup, WithHealth(mon))

	_, result := u.runCycle(context.Background())

	assert.Equal(t, ApplyFailed, result)
	local, _, _, _ := vcs.snapshot()
	assert.Equal(t, revB, local, "working copy stays at the new revision")
	assert.Equal(t, revA, u.current(), "running revision is unchanged")
	assert.Equal(t, health.Degraded, mon.Overall())
	assert.Zero(t, sup.count())
}

func TestApplyFailureDoesNotRestart(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revB, integrateErr: errors.New("Not possible to fast-forward, aborting.")}
	sup := newFakeSupervisor()
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, sup, WithObserver(obs))

	require.True(t, u.Start())
	waitFor(t, obs.seen, ApplyFailed)
	waitFor(t, obs.seen, ApplyFailed)
	u.Stop()

	assert.Zero(t, sup.count())
}

func TestReconcileRetriedOnNextCycle(t *testing.T) {
	vcs := &fakeVCS{local: revA, remote: revB}
	rec := &fakeReconciler{err: errReconcile}
	mon := health.NewMonitor()
	u := newTestUpdater(t, testConfig(), vcs, rec, newFakeSupervisor(), WithHealth(mon))

	_, first := u.runCycle(context.Background())
	require.Equal(t, ApplyFailed, first)

	rec.setErr(nil)
	_, second := u.runCycle(context.Background())

	assert.Equal(t, UpdateApplied, second)
	assert.Equal(t, revB, u.current())
	assert.Equal(t, health.Healthy, mon.Overall())
	calls, _ := rec.state()
	assert.Equal(t, 2, calls)
}

func TestUnknownCurrentRevisionResolvedAtCycleStart(t *testing.T) {
	vcs := &fakeVCS{local: revA, remote: revA, localErr: errors.New("fatal: bad object HEAD")}
	u := newTestUpdater(t, testConfig(), vcs, &fakeReconciler{}, newFakeSupervisor())
	require.True(t, u.current().IsZero())

	vcs.mu.Lock()
	vcs.localErr = nil
	vcs.mu.Unlock()

	_, result := u.runCycle(context.Background())
	assert.Equal(t, NoUpdateAvailable, result)
	assert.Equal(t, revA, u.current())
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revA, syncDelay: time.Millisecond}
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, newFakeSupervisor(), WithObserver(obs))

	require.True(t, u.Start())
	assert.False(t, u.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Start()
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		waitFor(t, obs.seen, NoUpdateAvailable)
	}
	u.Stop()

	_, _, _, maxActive := vcs.snapshot()
	assert.Equal(t, 1, maxActive, "cycles must never overlap")
}

func TestStartNoopWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	u := newTestUpdater(t, cfg, &fakeVCS{local: revA}, &fakeReconciler{}, newFakeSupervisor())

	assert.False(t, u.Start())
	st := u.Status()
	assert.False(t, st.Running)
	assert.False(t, st.Enabled)
}

func TestStartNoopWhenNotWorkingCopy(t *testing.T) {
	u := newTestUpdater(t, testConfig(), &fakeVCS{notRepo: true}, &fakeReconciler{}, newFakeSupervisor())

	assert.False(t, u.Start())
	assert.False(t, u.Status().Running)
	assert.Nil(t, u.Status().CurrentCommit)
}

func TestStopInterruptsInterCycleWait(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 24 * time.Hour
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, &fakeVCS{local: revA, remote: revA}, &fakeReconciler{}, newFakeSupervisor(), WithObserver(obs))

	require.True(t, u.Start())
	waitFor(t, obs.seen, NoUpdateAvailable)

	start := time.Now()
	u.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, u.Status().Running)

	select {
	case <-u.done:
	default:
		t.Fatal("polling goroutine still running after Stop")
	}
}

func TestStopIsBoundedByTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StopTimeout = 50 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revA, syncDelay: 400 * time.Millisecond}
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, newFakeSupervisor())
	u.Probe().FetchTimeout = time.Second

	require.True(t, u.Start())
	require.Eventually(t, func() bool {
		_, _, calls, _ := vcs.snapshot()
		return calls == 1
	}, time.Second, time.Millisecond)

	start := time.Now()
	u.Stop()
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.False(t, u.Status().Running)

	// The in-flight cycle still runs to completion.
	assert.False(t, u.Start(), "must not start while the old task is finishing")
	select {
	case <-u.done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight cycle never finished")
	}
	assert.True(t, u.Start())
}

func TestStopDuringGraceSkipsRestart(t *testing.T) {
	cfg := testConfig()
	cfg.GracePeriod = time.Hour
	obs := newRecordingObserver()
	sup := newFakeSupervisor()
	u := newTestUpdater(t, cfg, &fakeVCS{local: revA, remote: revB}, &fakeReconciler{}, sup, WithObserver(obs))

	require.True(t, u.Start())
	waitFor(t, obs.seen, UpdateApplied)
	u.Stop()

	assert.Zero(t, sup.count())
	assert.Equal(t, "bbbb2222", *u.Status().CurrentCommit)
}

func TestRestartErrorDoesNotStopLoop(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revB}
	sup := newFakeSupervisor()
	sup.err = &RestartError{Mode: ModeGracefulReload, Err: errors.New("no supervising parent process")}
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, sup, WithObserver(obs))

	require.True(t, u.Start())
	waitFor(t, obs.seen, UpdateApplied)
	waitFor(t, obs.seen, NoUpdateAvailable)
	assert.True(t, u.Status().Running)
	assert.Equal(t, 1, sup.count())
}

func TestPanicInCycleIsRecoveredAfterFaultPause(t *testing.T) {
	cfg := testConfig()
	cfg.FaultPause = 20 * time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revA, panicOnce: true}
	obs := newRecordingObserver()
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, newFakeSupervisor(), WithObserver(obs))

	start := time.Now()
	require.True(t, u.Start())
	waitFor(t, obs.seen, NoUpdateAvailable)

	assert.GreaterOrEqual(t, time.Since(start), cfg.FaultPause)
	assert.True(t, u.Status().Running)
	_, _, calls, _ := vcs.snapshot()
	assert.Equal(t, 2, calls)
}

func TestObserverSeesEveryCycle(t *testing.T) {
	vcs := &fakeVCS{local: revA, remote: revA}
	obs := newRecordingObserver()
	u := newTestUpdater(t, testConfig(), vcs, &fakeReconciler{}, newFakeSupervisor(), WithObserver(obs))

	assert.True(t, u.cycle(context.Background()))
	vcs.setRemote(revB)
	assert.True(t, u.cycle(context.Background()))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.cycles, 2)
	assert.Equal(t, NoUpdateAvailable, obs.cycles[0].result)
	assert.Equal(t, UpdateApplied, obs.cycles[1].result)
	assert.False(t, obs.cycles[1].checkedAt.Before(obs.cycles[0].checkedAt))
}

func TestLastCheckIsMonotonic(t *testing.T) {
	u := newTestUpdater(t, testConfig(), &fakeVCS{local: revA, remote: revA}, &fakeReconciler{}, newFakeSupervisor())

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	var i int
	u.now = func() time.Time {
		now := clock[i]
		i++
		return now
	}

	u.runCycle(context.Background())
	assert.Equal(t, base, *u.Status().LastCheck)

	u.runCycle(context.Background())
	assert.Equal(t, base, *u.Status().LastCheck, "clock stepped backwards")

	u.runCycle(context.Background())
	assert.Equal(t, base.Add(time.Minute), *u.Status().LastCheck)
}

func TestStatusSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 48 * time.Hour
	vcs := &fakeVCS{local: "0123456789abcdef0123456789abcdef01234567", remote: "0123456789abcdef0123456789abcdef01234567"}
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, newFakeSupervisor())

	u.runCycle(context.Background())
	st := u.Status()

	assert.True(t, st.Enabled)
	assert.Equal(t, "01234567", *st.CurrentCommit)
	assert.Equal(t, 48.0, st.CheckIntervalHours)
	assert.Equal(t, "main", st.Branch)
	assert.Equal(t, ModeGracefulReload, st.RestartMode)
	require.NotNil(t, st.LastCheck)
}

func TestStatusConcurrentWithCycles(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Millisecond
	vcs := &fakeVCS{local: revA, remote: revB}
	u := newTestUpdater(t, cfg, vcs, &fakeReconciler{}, newFakeSupervisor())

	require.True(t, u.Start())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				st := u.Status()
				if st.CurrentCommit != nil {
					c := *st.CurrentCommit
					if c != revA.Short() && c != revB.Short() {
						t.Errorf("unexpected revision %q", c)
						return
					}
				}
				if st.Branch != "main" {
					t.Errorf("branch = %q", st.Branch)
					return
				}
			}
		}()
	}

	go func() {
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				vcs.setRemote(revA)
			} else {
				vcs.setRemote(revB)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	u.Stop()
}
