// Package launcher coordinates the loading screen, the server supervisor and
// the main window for one launcher run.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/api"
	"github.com/Paintersrp/serverlaunch/internal/probe"
	"github.com/Paintersrp/serverlaunch/internal/runtime"
	"github.com/Paintersrp/serverlaunch/internal/supervisor"
	"github.com/Paintersrp/serverlaunch/internal/window"
)

const (
	defaultStopTimeout = 10 * time.Second
	failureMessage     = "Could not connect to the server."
)

// ErrNotReady is returned by Run when ExitOnFailure is set and the server
// never became ready.
var ErrNotReady = errors.New("server did not become ready")

// Phase is the launcher-level lifecycle.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseFailed   Phase = "failed"
	PhaseRunning  Phase = "running"
	PhaseClosed   Phase = "closed"
)

// Supervisor is the subset of supervisor.Supervisor the launcher drives.
type Supervisor interface {
	Start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error)
	WaitUntilReady(ctx context.Context, target probe.Target, timeout time.Duration) bool
	Retry(ctx context.Context) bool
	Close(ctx context.Context) error
	Events() <-chan supervisor.Event
	Snapshot() supervisor.Snapshot
}

// Config describes one launcher run.
type Config struct {
	Spec    runtime.Spec
	Target  probe.Target
	Timeout time.Duration
	Window  window.Spec

	// ExitOnFailure ends Run with ErrNotReady instead of waiting for a retry
	// command.
	ExitOnFailure bool
	StopTimeout   time.Duration
	Version       string
}

type waitResult struct {
	gen   int
	ready bool
}

// Launcher owns the supervisor for the duration of Run and guarantees the
// server is stopped before Run returns.
type Launcher struct {
	cfg    Config
	sup    Supervisor
	view   LoadingView
	opener window.Opener
	logger *slog.Logger

	commands chan Command
	done     chan struct{}
	attempts sync.WaitGroup

	mu    sync.Mutex
	phase Phase
	win   window.Window
	gen   int
}

// New constructs a launcher. A nil view selects the headless LogView.
func New(cfg Config, sup Supervisor, view LoadingView, opener window.Opener, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	if view == nil {
		view = NewLogView(logger)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Launcher{
		cfg:      cfg,
		sup:      sup,
		view:     view,
		opener:   opener,
		logger:   logger,
		commands: make(chan Command, 4),
		done:     make(chan struct{}),
		phase:    PhaseStarting,
	}
}

// Phase returns the current launcher phase.
func (l *Launcher) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Done is closed once Run has returned.
func (l *Launcher) Done() <-chan struct{} {
	return l.done
}

// Submit delivers a command to the running launcher and waits for its reply.
func (l *Launcher) Submit(ctx context.Context, kind CommandKind) error {
	reply := make(chan error, 1)
	select {
	case l.commands <- Command{Kind: kind, Reply: reply}:
	case <-l.done:
		return api.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		select {
		case err := <-reply:
			return err
		default:
			return api.ErrShuttingDown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run shows the loading view, starts the server and waits for readiness, then
// opens the main window. It returns once the user closes the app, a close
// command arrives or ctx is cancelled; the server is stopped on every path.
func (l *Launcher) Run(ctx context.Context) error {
	defer close(l.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		if err := l.view.Run(runCtx); err != nil {
			l.logger.Error("loading view", "err", err)
		}
	}()

	pumpStop := make(chan struct{})
	pumpDone := make(chan struct{})
	go l.pumpEvents(pumpStop, pumpDone)

	results := make(chan waitResult, 1)
	l.beginAttempt(runCtx, results, "Starting server...", func(ctx context.Context) bool {
		if _, err := l.sup.Start(ctx, l.cfg.Spec); err != nil {
			l.logger.Error("start server", "err", err)
		}
		return l.sup.WaitUntilReady(ctx, l.cfg.Target, l.cfg.Timeout)
	})

	err := l.loop(runCtx, results, viewDone)

	l.teardown()
	close(pumpStop)
	<-pumpDone
	cancel()
	l.attempts.Wait()
	<-viewDone
	return err
}

func (l *Launcher) loop(ctx context.Context, results chan waitResult, viewDone <-chan struct{}) error {
	viewCmds := l.view.Commands()
	var winDone <-chan struct{}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("shutdown requested")
			return nil
		case <-viewDone:
			viewDone = nil
			if l.Phase() != PhaseRunning {
				l.logger.Info("loading screen closed")
				return nil
			}
		case <-winDone:
			l.logger.Info("main window closed")
			return nil
		case r := <-results:
			if !l.isCurrent(r.gen) {
				continue
			}
			if r.ready {
				w, err := l.onReady(ctx)
				if err != nil {
					return err
				}
				if w != nil {
					winDone = w.Done()
				}
				continue
			}
			if l.onFailure() {
				return ErrNotReady
			}
		case cmd := <-viewCmds:
			if l.handle(ctx, cmd, results) {
				return nil
			}
		case cmd := <-l.commands:
			if l.handle(ctx, cmd, results) {
				return nil
			}
		}
	}
}

func (l *Launcher) beginAttempt(ctx context.Context, results chan<- waitResult, status string, attempt func(context.Context) bool) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.phase = PhaseStarting
	l.mu.Unlock()

	l.view.SetStatus(status)
	l.attempts.Add(1)
	go func() {
		defer l.attempts.Done()
		r := waitResult{gen: gen, ready: attempt(ctx)}
		select {
		case results <- r:
		case <-ctx.Done():
		}
	}()
}

func (l *Launcher) isCurrent(gen int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen
}

func (l *Launcher) onReady(ctx context.Context) (window.Window, error) {
	l.mu.Lock()
	l.phase = PhaseRunning
	existing := l.win
	l.mu.Unlock()

	l.view.SetStatus("Server ready")
	l.view.Close()
	if existing != nil {
		l.logger.Info("server ready again; keeping main window")
		return nil, nil
	}

	w, err := l.opener.Open(ctx, l.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("open main window: %w", err)
	}
	l.mu.Lock()
	l.win = w
	l.mu.Unlock()
	return w, nil
}

// onFailure reports whether Run should end.
func (l *Launcher) onFailure() bool {
	l.mu.Lock()
	l.phase = PhaseFailed
	hasWindow := l.win != nil
	l.mu.Unlock()

	message := failureMessage
	if snap := l.sup.Snapshot(); snap.LastError != "" {
		message = fmt.Sprintf("%s\n%s", failureMessage, snap.LastError)
	}
	if hasWindow {
		l.logger.Error("server not ready after retry; main window left open", "reason", message)
		return l.cfg.ExitOnFailure
	}
	l.view.ShowFailure(message)
	return l.cfg.ExitOnFailure
}

// handle reports whether Run should end.
func (l *Launcher) handle(ctx context.Context, cmd Command, results chan<- waitResult) bool {
	switch cmd.Kind {
	case CommandClose:
		l.logger.Info("close requested")
		cmd.respond(nil)
		return true
	case CommandRetry:
		phase := l.Phase()
		if phase != PhaseFailed && phase != PhaseRunning {
			cmd.respond(fmt.Errorf("%w: %s", api.ErrRetryRejected, phase))
			return false
		}
		l.logger.Info("retry requested", "phase", string(phase))
		l.beginAttempt(ctx, results, "Retrying...", l.sup.Retry)
		cmd.respond(nil)
		return false
	default:
		cmd.respond(fmt.Errorf("unknown command %q", cmd.Kind))
		return false
	}
}

func (l *Launcher) teardown() {
	l.mu.Lock()
	l.phase = PhaseClosed
	w := l.win
	l.mu.Unlock()

	l.view.Close()
	if w != nil {
		if err := w.Close(); err != nil {
			l.logger.Warn("close main window", "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StopTimeout)
	defer cancel()
	if err := l.sup.Close(ctx); err != nil {
		l.logger.Error("stop server", "err", err)
	}
}

func (l *Launcher) pumpEvents(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	events := l.sup.Events()
	for {
		select {
		case <-stop:
			return
		case evt := <-events:
			l.applyEvent(evt)
		}
	}
}

func (l *Launcher) applyEvent(evt supervisor.Event) {
	switch evt.Type {
	case supervisor.EventTypeLog:
		l.view.AppendLog(fmt.Sprintf("[%s] %s", evt.Source, evt.Message))
	case supervisor.EventTypeStarting:
		if evt.Attempt > 1 {
			l.view.SetStatus(fmt.Sprintf("Starting server (attempt %d)...", evt.Attempt))
		}
	case supervisor.EventTypeExited:
		l.logger.Warn("server exited after readiness", "exit_code", evt.ExitCode)
		l.mu.Lock()
		if l.phase == PhaseRunning {
			l.phase = PhaseFailed
		}
		l.mu.Unlock()
	}
}
