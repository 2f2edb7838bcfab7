package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Paintersrp/serverlaunch/internal/metrics"
	"github.com/Paintersrp/serverlaunch/internal/probe"
	"github.com/Paintersrp/serverlaunch/internal/runtime"
)

const (
	defaultEventBuffer = 256
	defaultStopTimeout = 10 * time.Second
)

var (
	ErrSpawnFailed      = errors.New("spawn failed")
	ErrReadinessTimeout = errors.New("readiness timeout")
	ErrUnexpectedExit   = errors.New("server exited unexpectedly")
	ErrNothingToRetry   = errors.New("no server has been started")
	ErrClosed           = errors.New("supervisor closed")
)

// State is the supervisor-level lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	Server     string
	State      State
	PID        int
	Attempt    int
	AttemptID  string
	LastReason Reason
	LastError  string
	StartedAt  time.Time
	ReadyAt    time.Time
	Target     probe.Target
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRuntime overrides the process runtime used to spawn the server.
func WithRuntime(rt runtime.Runtime) Option {
	return func(s *Supervisor) {
		if rt != nil {
			s.runtime = rt
		}
	}
}

// WithLogger sets the logger used for lifecycle messages and server output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval sets the fixed interval between readiness attempts.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithProberFactory overrides how readiness probers are constructed.
func WithProberFactory(fn func(probe.Target) (probe.Prober, error)) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.newProber = fn
		}
	}
}

// Supervisor owns the lifecycle of one server child process: spawn, readiness
// polling, user-initiated retry and teardown. It is safe for concurrent use.
type Supervisor struct {
	name        string
	runtime     runtime.Runtime
	logger      *slog.Logger
	interval    time.Duration
	eventBuffer int
	newProber   func(probe.Target) (probe.Prober, error)

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	// workers tracks the log pump and exit watcher of every spawned handle.
	workers sync.WaitGroup

	// opMu serialises Start, Stop and Close so at most one handle is live.
	opMu sync.Mutex

	mu            sync.Mutex
	state         State
	handle        runtime.Handle
	stopRequested runtime.Handle
	spawnErr      error
	earlyExit     error
	spec          runtime.Spec
	hasSpec       bool
	target        probe.Target
	timeout       time.Duration
	attempt       int
	attemptID     string
	waitSeq       uint64
	waitCancel    context.CancelFunc
	lastReason    Reason
	lastErr       error
	startedAt     time.Time
	readyAt       time.Time
	isClosed      bool
}

// New constructs a supervisor for the named server. The runtime must be
// supplied with WithRuntime.
func New(name string, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:        name,
		logger:      slog.Default(),
		interval:    probe.DefaultInterval,
		eventBuffer: defaultEventBuffer,
		newProber:   probe.New,
		closed:      make(chan struct{}),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan Event, s.eventBuffer)
	s.logger = s.logger.With("server", name)
	return s
}

// Events exposes lifecycle and log notifications.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current supervisor view.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Server:     s.name,
		State:      s.state,
		Attempt:    s.attempt,
		AttemptID:  s.attemptID,
		LastReason: s.lastReason,
		StartedAt:  s.startedAt,
		ReadyAt:    s.readyAt,
		Target:     s.target,
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Start launches the server. Any previously tracked process is stopped first
// and any pending readiness wait is cancelled. A spawn failure leaves the
// supervisor without a running process; the following WaitUntilReady reports
// not ready immediately.
func (s *Supervisor) Start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx, spec)
}

func (s *Supervisor) startLocked(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.runtime == nil {
		return nil, errors.New("supervisor: runtime not configured")
	}

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.cancelWaitLocked()
	s.mu.Unlock()

	if err := s.stopCurrent(ctx); err != nil {
		s.logger.Warn("stop previous server", "err", err)
	}

	if spec.Name == "" {
		spec.Name = s.name
	}

	s.mu.Lock()
	s.attempt++
	s.attemptID = uuid.NewString()
	s.state = StateStarting
	s.spec = spec.Clone()
	s.hasSpec = true
	s.handle = nil
	s.spawnErr = nil
	s.earlyExit = nil
	s.lastReason = ""
	s.lastErr = nil
	s.startedAt = time.Now()
	s.readyAt = time.Time{}
	attempt, attemptID := s.attempt, s.attemptID
	s.mu.Unlock()

	metrics.SetServerReady(s.name, false)
	s.logger.Info("starting server", "command", spec.Command, "args", spec.Args, "workdir", spec.Workdir, "attempt", attempt, "attempt_id", attemptID)
	s.emit(s.lifecycleEvent(EventTypeStarting, "", "starting server", nil))

	h, err := s.runtime.Start(ctx, spec)
	if err != nil {
		spawnErr := fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		s.mu.Lock()
		s.spawnErr = spawnErr
		s.lastErr = spawnErr
		s.mu.Unlock()
		metrics.IncrementStart(s.name, "spawn_failed")
		s.logger.Error("spawn server", "err", err, "attempt", attempt)
		return nil, spawnErr
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	metrics.IncrementStart(s.name, "spawned")
	s.logger.Info("server spawned", "pid", h.PID(), "attempt", attempt)

	s.workers.Add(2)
	go func() {
		defer s.workers.Done()
		s.pumpLogs(h, attempt, attemptID)
	}()
	go func() {
		defer s.workers.Done()
		s.watchExit(h, attempt)
	}()

	return h, nil
}

// WaitUntilReady polls target at the fixed interval until a connection
// succeeds (true) or timeout elapses (false). It resolves exactly once and
// returns immediately with false when the server failed to spawn or exits
// before becoming ready. Starting a new wait, Retry, Stop or Close cancels a
// pending one; a cancelled wait returns false without emitting a signal.
func (s *Supervisor) WaitUntilReady(ctx context.Context, target probe.Target, timeout time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancelWaitLocked()
	s.waitSeq++
	seq := s.waitSeq
	s.waitCancel = cancel
	s.target = target
	s.timeout = timeout
	h := s.handle
	spawnErr := s.spawnErr
	earlyExit := s.earlyExit
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.waitSeq == seq {
			s.waitCancel = nil
		}
		s.mu.Unlock()
	}()

	if h == nil {
		if earlyExit != nil {
			return s.resolve(seq, false, ReasonExited, earlyExit)
		}
		err := spawnErr
		if err == nil {
			s.logger.Warn("readiness requested without a running server")
			err = ErrSpawnFailed
		}
		return s.resolve(seq, false, ReasonSpawnFailed, err)
	}

	prober, err := s.newProber(target)
	if err != nil {
		return s.resolve(seq, false, ReasonInvalidTarget, err)
	}

	s.logger.Info("waiting for server", "address", target.Address(), "kind", string(target.Kind), "timeout", timeout, "interval", s.interval)

	err = probe.Poll(waitCtx, prober, probe.Options{
		Interval: s.interval,
		Timeout:  timeout,
		Abort:    h.Done(),
		Observe: func(a probe.Attempt) {
			metrics.ObserveProbeLatency(s.name, a.Latency)
			if a.Err != nil {
				s.logger.Debug("readiness probe failed", "attempt", a.N, "err", a.Err)
			}
		},
	})

	switch {
	case err == nil:
		return s.resolve(seq, true, "", nil)
	case errors.Is(err, probe.ErrAborted):
		exitErr := fmt.Errorf("%w before readiness", ErrUnexpectedExit)
		if code, ok := h.ExitCode(); ok {
			exitErr = fmt.Errorf("%w before readiness (exit code %d)", ErrUnexpectedExit, code)
		}
		return s.resolve(seq, false, ReasonExited, exitErr)
	case errors.Is(err, probe.ErrTimeout):
		return s.resolve(seq, false, ReasonTimeout, fmt.Errorf("%w: %v", ErrReadinessTimeout, err))
	default:
		return s.resolve(seq, false, ReasonCancelled, err)
	}
}

// resolve applies the outcome of wait seq. Outcomes of superseded waits are
// discarded so overlapping retries never trigger duplicate transitions.
func (s *Supervisor) resolve(seq uint64, ready bool, reason Reason, err error) bool {
	s.mu.Lock()
	if s.waitSeq != seq || s.isClosed || reason == ReasonCancelled {
		s.mu.Unlock()
		s.logger.Debug("readiness wait superseded", "err", err)
		return false
	}
	if ready {
		s.state = StateReady
		s.readyAt = time.Now()
		s.lastReason = ""
		s.lastErr = nil
	} else {
		s.state = StateFailed
		s.lastReason = reason
		s.lastErr = err
	}
	s.mu.Unlock()

	metrics.SetServerReady(s.name, ready)
	if ready {
		s.logger.Info("server ready")
		s.emit(s.lifecycleEvent(EventTypeReady, "", "server ready", nil))
		return true
	}

	metrics.IncrementReadinessFailure(s.name, string(reason))
	s.logger.Error("server not ready", "reason", string(reason), "err", err)
	s.emit(s.lifecycleEvent(EventTypeNotReady, reason, "could not connect to server", err))
	return false
}

// Retry stops the current server, starts it again with the last spec and
// waits for readiness with the last probe parameters.
func (s *Supervisor) Retry(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	s.opMu.Lock()
	s.mu.Lock()
	state, hasSpec, closed := s.state, s.hasSpec, s.isClosed
	spec, target, timeout := s.spec.Clone(), s.target, s.timeout
	s.mu.Unlock()

	if closed || !hasSpec || state == StateIdle || state == StateStopped {
		s.opMu.Unlock()
		s.logger.Warn("retry ignored", "state", string(state))
		return false
	}

	metrics.IncrementRetry(s.name)
	s.logger.Info("retrying server", "previous_state", string(state))

	_, err := s.startLocked(ctx, spec)
	s.opMu.Unlock()
	if err != nil && !errors.Is(err, ErrSpawnFailed) {
		s.logger.Error("retry start", "err", err)
		return false
	}
	return s.WaitUntilReady(ctx, target, timeout)
}

// Stop terminates the tracked process if one is running and cancels any
// pending readiness wait. Calling Stop with nothing running is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.cancelWaitLocked()
	running := s.handle != nil && s.handle.Running()
	s.mu.Unlock()

	if !running {
		return nil
	}

	err := s.stopCurrent(ctx)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	metrics.SetServerReady(s.name, false)
	s.emit(s.lifecycleEvent(EventTypeStopped, ReasonShutdown, "server stopped", err))
	return err
}

// Close performs application teardown: the process is stopped, pending waits
// are cancelled and the supervisor enters the terminal stopped state. It
// returns once the output and exit watchers of every spawned process have
// finished, or ctx expires.
func (s *Supervisor) Close(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
	}

	err := s.Stop(ctx)

	s.opMu.Lock()
	s.mu.Lock()
	already := s.isClosed
	wasStopped := s.state == StateStopped
	s.state = StateStopped
	s.isClosed = true
	s.mu.Unlock()
	s.opMu.Unlock()

	if !already {
		if !wasStopped {
			s.emit(s.lifecycleEvent(EventTypeStopped, ReasonShutdown, "supervisor closed", nil))
		}
		s.closeOnce.Do(func() { close(s.closed) })
	}

	if werr := s.waitWorkers(ctx); werr != nil {
		s.logger.Warn("server watchers still running after close", "err", werr)
		if err == nil {
			err = fmt.Errorf("close server %s: %w", s.name, werr)
		}
	}
	return err
}

// waitWorkers must run after closed is closed so a watcher blocked on a
// lifecycle emit can return.
func (s *Supervisor) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopCurrent terminates the current handle. Termination requested here is
// never reported as an unexpected exit.
func (s *Supervisor) stopCurrent(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	if h != nil {
		s.stopRequested = h
	}
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultStopTimeout)
		defer cancel()
	}

	s.logger.Info("stopping server", "pid", h.PID())
	err := h.Stop(ctx)
	if err != nil {
		s.logger.Warn("graceful stop failed; killing", "err", err)
		killCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		err = h.Kill(killCtx)
		cancel()
	}

	s.mu.Lock()
	if s.handle == h && !h.Running() {
		s.handle = nil
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop server %s: %w", s.name, err)
	}
	return nil
}

// cancelWaitLocked invalidates the pending wait so its outcome is discarded.
func (s *Supervisor) cancelWaitLocked() {
	s.waitSeq++
	if s.waitCancel != nil {
		s.waitCancel()
		s.waitCancel = nil
	}
}

// watchExit clears the handle once termination is observed. An exit after
// readiness that was not requested moves the supervisor to failed and emits
// an exited event; no restart is attempted.
func (s *Supervisor) watchExit(h runtime.Handle, attempt int) {
	<-h.Done()
	code, _ := h.ExitCode()

	s.mu.Lock()
	current := s.handle == h
	if current {
		s.handle = nil
	}
	requested := s.stopRequested == h
	if requested {
		s.stopRequested = nil
	}
	if current && !requested && s.state == StateStarting {
		s.earlyExit = fmt.Errorf("%w before readiness (exit code %d)", ErrUnexpectedExit, code)
	}
	wasReady := current && !requested && s.state == StateReady && !s.isClosed
	if wasReady {
		s.state = StateFailed
		s.lastReason = ReasonExited
		s.lastErr = fmt.Errorf("%w (exit code %d)", ErrUnexpectedExit, code)
	}
	s.mu.Unlock()

	logArgs := []any{"exit_code", code, "attempt", attempt}
	if err := h.Err(); err != nil {
		logArgs = append(logArgs, "err", err)
	}
	if requested {
		s.logger.Info("server process terminated", logArgs...)
		return
	}
	s.logger.Warn("server process exited", logArgs...)

	if wasReady {
		metrics.SetServerReady(s.name, false)
		evt := s.lifecycleEvent(EventTypeExited, ReasonExited, "server exited after readiness", fmt.Errorf("%w (exit code %d)", ErrUnexpectedExit, code))
		evt.ExitCode = code
		s.emit(evt)
	}
}

func (s *Supervisor) pumpLogs(h runtime.Handle, attempt int, attemptID string) {
	logs := h.Logs()
	if logs == nil {
		return
	}
	dropped := 0
	for entry := range logs {
		if entry.Message == "" {
			continue
		}
		level := slog.LevelInfo
		if entry.Level == "warn" {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, entry.Message, "source", entry.Source, "attempt", attempt)

		if dropped > 0 {
			if !s.emitLog(s.droppedEvent(dropped, attempt, attemptID)) {
				dropped++
				continue
			}
			dropped = 0
		}
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		evt := Event{
			Timestamp: ts,
			Server:    s.name,
			Type:      EventTypeLog,
			Message:   entry.Message,
			Level:     entry.Level,
			Source:    entry.Source,
			Attempt:   attempt,
			AttemptID: attemptID,
		}
		if !s.emitLog(evt) {
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Warn("server log events dropped", "dropped", dropped, "attempt", attempt)
	}
}
