package updater

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeVCS is an in-memory SourceControl. Integrate moves local to remote.
type fakeVCS struct {
	mu sync.Mutex

	notRepo bool
	local   RevisionID
	remote  RevisionID

	localErr     error
	syncErr      error
	integrateErr error

	blockSync  bool // Synchronize waits for ctx to expire
	syncDelay  time.Duration
	panicOnce  bool
	panicked   bool
	active     int
	maxActive  int
	syncCalls  int
	integrated int
}

func (f *fakeVCS) IsWorkingCopy(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notRepo
}

func (f *fakeVCS) ResolveLocal(ctx context.Context) (RevisionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.localErr != nil {
		return "", f.localErr
	}
	return f.local, nil
}

func (f *fakeVCS) Synchronize(ctx context.Context, branch string) error {
	f.mu.Lock()
	f.syncCalls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	block, delay := f.blockSync, f.syncDelay
	shouldPanic := f.panicOnce && !f.panicked
	if shouldPanic {
		f.panicked = true
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if shouldPanic {
		panic("remote exploded")
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncErr
}

func (f *fakeVCS) ResolveRemote(ctx context.Context, branch string) (RevisionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote, nil
}

func (f *fakeVCS) Integrate(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.integrateErr != nil {
		return f.integrateErr
	}
	f.local = f.remote
	f.integrated++
	return nil
}

func (f *fakeVCS) snapshot() (local RevisionID, integrated, syncCalls, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local, f.integrated, f.syncCalls, f.maxActive
}

func (f *fakeVCS) setRemote(rev RevisionID) {
	f.mu.Lock()
	f.remote = rev
	f.mu.Unlock()
}

type fakeReconciler struct {
	mu       sync.Mutex
	err      error
	calls    int
	finished time.Time
}

func (r *fakeReconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.finished = time.Now()
	return r.err
}

func (r *fakeReconciler) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeReconciler) state() (int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.finished
}

type fakeSupervisor struct {
	mu        sync.Mutex
	restarts  int
	at        time.Time
	err       error
	restarted chan struct{}
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{restarted: make(chan struct{}, 8)}
}

func (s *fakeSupervisor) Mode() RestartMode { return ModeGracefulReload }

func (s *fakeSupervisor) Restart() error {
	s.mu.Lock()
	s.restarts++
	s.at = time.Now()
	err := s.err
	s.mu.Unlock()
	select {
	case s.restarted <- struct{}{}:
	default:
	}
	return err
}

func (s *fakeSupervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

type recordedCycle struct {
	result    CycleResult
	checkedAt time.Time
}

type recordingObserver struct {
	mu     sync.Mutex
	cycles []recordedCycle
	seen   chan CycleResult
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{seen: make(chan CycleResult, 64)}
}

func (o *recordingObserver) ObserveCycle(result CycleResult, checkedAt time.Time, elapsed time.Duration) {
	o.mu.Lock()
	o.cycles = append(o.cycles, recordedCycle{result: result, checkedAt: checkedAt})
	o.mu.Unlock()
	select {
	case o.seen <- result:
	default:
	}
}

var errReconcile = errors.New("go mod download: exit status 1")
