package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/api"
	"github.com/Paintersrp/serverlaunch/internal/probe"
	"github.com/Paintersrp/serverlaunch/internal/runtime"
	"github.com/Paintersrp/serverlaunch/internal/supervisor"
	"github.com/Paintersrp/serverlaunch/internal/window"
)

type fakeSupervisor struct {
	events chan supervisor.Event

	mu       sync.Mutex
	outcomes []bool
	block    bool
	release  chan struct{}
	starts   int
	retries  int
	waits    int
	closes   int
	state    supervisor.State
	lastErr  string
}

func newFakeSupervisor(outcomes ...bool) *fakeSupervisor {
	return &fakeSupervisor{
		events:   make(chan supervisor.Event, 16),
		outcomes: outcomes,
		release:  make(chan struct{}),
		state:    supervisor.StateIdle,
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.state = supervisor.StateStarting
	return nil, nil
}

func (f *fakeSupervisor) WaitUntilReady(ctx context.Context, target probe.Target, timeout time.Duration) bool {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block {
		select {
		case <-ctx.Done():
			return false
		case <-f.release:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ready := false
	if f.waits < len(f.outcomes) {
		ready = f.outcomes[f.waits]
	}
	f.waits++
	if ready {
		f.state = supervisor.StateReady
		f.lastErr = ""
	} else {
		f.state = supervisor.StateFailed
		f.lastErr = "readiness timeout"
	}
	return ready
}

func (f *fakeSupervisor) Retry(ctx context.Context) bool {
	f.mu.Lock()
	f.retries++
	f.state = supervisor.StateStarting
	f.mu.Unlock()
	return f.WaitUntilReady(ctx, probe.Target{}, 0)
}

func (f *fakeSupervisor) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = supervisor.StateStopped
	return nil
}

func (f *fakeSupervisor) Events() <-chan supervisor.Event { return f.events }

func (f *fakeSupervisor) Snapshot() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return supervisor.Snapshot{
		Server:    "app",
		State:     f.state,
		Attempt:   f.starts + f.retries,
		LastError: f.lastErr,
	}
}

func (f *fakeSupervisor) counts() (starts, retries, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.retries, f.closes
}

type fakeView struct {
	commands chan Command
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	statuses []string
	failures []string
	logs     []string
}

func newFakeView() *fakeView {
	return &fakeView{commands: make(chan Command, 4), done: make(chan struct{})}
}

func (v *fakeView) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-v.done:
	}
	return nil
}

func (v *fakeView) SetStatus(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, message)
}

func (v *fakeView) ShowFailure(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = append(v.failures, message)
}

func (v *fakeView) AppendLog(line string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.logs = append(v.logs, line)
}

func (v *fakeView) Commands() <-chan Command { return v.commands }

func (v *fakeView) Close() {
	v.once.Do(func() { close(v.done) })
}

func (v *fakeView) closed() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *fakeView) failureCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.failures)
}

func (v *fakeView) hasLog(line string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, l := range v.logs {
		if l == line {
			return true
		}
	}
	return false
}

type fakeWindow struct {
	done chan struct{}
	once sync.Once
}

func (w *fakeWindow) Done() <-chan struct{} { return w.done }

func (w *fakeWindow) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	err     error
	windows []*fakeWindow
	specs   []window.Spec
}

func (o *fakeOpener) Open(ctx context.Context, spec window.Spec) (window.Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.specs = append(o.specs, spec)
	if o.err != nil {
		return nil, o.err
	}
	w := &fakeWindow{done: make(chan struct{})}
	o.windows = append(o.windows, w)
	return w, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.windows)
}

func (o *fakeOpener) window(i int) *fakeWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.windows[i]
}

func testConfig() Config {
	return Config{
		Spec:    runtime.Spec{Name: "app", Command: "python3"},
		Target:  probe.Target{Kind: probe.KindHTTP, Host: "127.0.0.1", Port: 8501, Path: "/"},
		Timeout: time.Second,
		Window:  window.Spec{URL: "http://127.0.0.1:8501", Title: "App", Width: 900, Height: 700, Mode: window.ModeApp},
		Version: "test",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRun(t *testing.T, l *Launcher) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-l.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("launcher did not stop")
		}
	})
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to return")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunOpensWindowOnceReady(t *testing.T) {
	sup := newFakeSupervisor(true)
	view := newFakeView()
	opener := &fakeOpener{}
	l := New(testConfig(), sup, view, opener, discardLogger())
	errCh := startRun(t, l)

	eventually(t, func() bool { return opener.opened() == 1 }, "main window")
	if !view.closed() {
		t.Fatalf("expected loading view to close once ready")
	}
	if got := l.Phase(); got != PhaseRunning {
		t.Fatalf("expected phase %q, got %q", PhaseRunning, got)
	}
	if opener.specs[0].URL != "http://127.0.0.1:8501" {
		t.Fatalf("unexpected window url %q", opener.specs[0].URL)
	}

	_ = opener.window(0).Close()
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped once, got %d", closes)
	}
	if l.Phase() != PhaseClosed {
		t.Fatalf("expected closed phase after run, got %q", l.Phase())
	}
}

func TestRunShowsFailureAndRetriesFromView(t *testing.T) {
	sup := newFakeSupervisor(false, true)
	view := newFakeView()
	opener := &fakeOpener{}
	l := New(testConfig(), sup, view, opener, discardLogger())
	errCh := startRun(t, l)

	eventually(t, func() bool { return view.failureCount() == 1 }, "failure message")
	if opener.opened() != 0 {
		t.Fatalf("window opened before readiness")
	}
	view.mu.Lock()
	msg := view.failures[0]
	view.mu.Unlock()
	if !strings.Contains(msg, failureMessage) || !strings.Contains(msg, "readiness timeout") {
		t.Fatalf("unexpected failure message %q", msg)
	}

	reply := make(chan error, 1)
	view.commands <- Command{Kind: CommandRetry, Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("retry rejected: %v", err)
	}
	eventually(t, func() bool { return opener.opened() == 1 }, "main window after retry")

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	starts, retries, closes := sup.counts()
	if starts != 1 || retries != 1 || closes != 1 {
		t.Fatalf("unexpected calls: starts=%d retries=%d closes=%d", starts, retries, closes)
	}
}

func TestRunExitOnFailure(t *testing.T) {
	sup := newFakeSupervisor(false)
	cfg := testConfig()
	cfg.ExitOnFailure = true
	l := New(cfg, sup, newFakeView(), &fakeOpener{}, discardLogger())
	errCh := startRun(t, l)

	if err := waitRun(t, errCh); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped, got %d closes", closes)
	}
}

func TestCloseDuringStartupStopsServer(t *testing.T) {
	sup := newFakeSupervisor(true)
	sup.block = true
	opener := &fakeOpener{}
	l := New(testConfig(), sup, newFakeView(), opener, discardLogger())
	errCh := startRun(t, l)

	eventually(t, func() bool { s, _, _ := sup.counts(); return s == 1 }, "server start")
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if opener.opened() != 0 {
		t.Fatalf("window opened after close")
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped, got %d closes", closes)
	}
}

func TestRetryRejectedWhileStarting(t *testing.T) {
	sup := newFakeSupervisor(true)
	sup.block = true
	l := New(testConfig(), sup, newFakeView(), &fakeOpener{}, discardLogger())
	startRun(t, l)

	err := l.Submit(context.Background(), CommandRetry)
	if !errors.Is(err, api.ErrRetryRejected) {
		t.Fatalf("expected ErrRetryRejected, got %v", err)
	}
}

func TestLoadingViewQuitBeforeReady(t *testing.T) {
	sup := newFakeSupervisor(true)
	sup.block = true
	view := newFakeView()
	l := New(testConfig(), sup, view, &fakeOpener{}, discardLogger())
	errCh := startRun(t, l)

	eventually(t, func() bool { s, _, _ := sup.counts(); return s == 1 }, "server start")
	view.Close()
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped, got %d closes", closes)
	}
}

func TestContextCancelStopsServer(t *testing.T) {
	sup := newFakeSupervisor(true)
	l := New(testConfig(), sup, newFakeView(), &fakeOpener{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	eventually(t, func() bool { return l.Phase() == PhaseRunning }, "running phase")

	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped, got %d closes", closes)
	}
}

func TestWindowOpenErrorEndsRun(t *testing.T) {
	sup := newFakeSupervisor(true)
	opener := &fakeOpener{err: errors.New("no display")}
	l := New(testConfig(), sup, newFakeView(), opener, discardLogger())
	errCh := startRun(t, l)

	err := waitRun(t, errCh)
	if err == nil || !strings.Contains(err.Error(), "no display") {
		t.Fatalf("expected window error, got %v", err)
	}
	if _, _, closes := sup.counts(); closes != 1 {
		t.Fatalf("expected server to be stopped, got %d closes", closes)
	}
}

func TestSubmitAfterRunReturnsShuttingDown(t *testing.T) {
	sup := newFakeSupervisor(false)
	cfg := testConfig()
	cfg.ExitOnFailure = true
	l := New(cfg, sup, newFakeView(), &fakeOpener{}, discardLogger())
	errCh := startRun(t, l)
	_ = waitRun(t, errCh)

	if err := l.Submit(context.Background(), CommandRetry); !errors.Is(err, api.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestServerLogsReachLoadingView(t *testing.T) {
	sup := newFakeSupervisor(true)
	sup.block = true
	view := newFakeView()
	l := New(testConfig(), sup, view, &fakeOpener{}, discardLogger())
	startRun(t, l)

	sup.events <- supervisor.Event{Type: supervisor.EventTypeLog, Source: runtime.LogSourceStdout, Message: "You can now view your app"}
	eventually(t, func() bool { return view.hasLog("[stdout] You can now view your app") }, "log line")
}

func TestStatusReflectsSupervisor(t *testing.T) {
	sup := newFakeSupervisor(true)
	l := New(testConfig(), sup, newFakeView(), &fakeOpener{}, discardLogger())
	startRun(t, l)
	eventually(t, func() bool { return l.Phase() == PhaseRunning }, "running phase")

	status, err := l.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !status.Ready || status.State != string(supervisor.StateReady) || status.Phase != string(PhaseRunning) {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Target != "127.0.0.1:8501" {
		t.Fatalf("expected configured target, got %q", status.Target)
	}
	if status.Version != "test" {
		t.Fatalf("expected version test, got %q", status.Version)
	}
}
