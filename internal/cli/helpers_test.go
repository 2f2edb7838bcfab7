package cli

import (
	"bytes"
	stdcontext "context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/runtime"
	"github.com/Paintersrp/serverlaunch/internal/window"
)

type stubHandle struct {
	done chan struct{}
	logs chan runtime.LogEntry
	once sync.Once
}

func newStubHandle() *stubHandle {
	return &stubHandle{done: make(chan struct{}), logs: make(chan runtime.LogEntry)}
}

func (h *stubHandle) finish() {
	h.once.Do(func() {
		close(h.logs)
		close(h.done)
	})
}

func (h *stubHandle) PID() int { return 4242 }

func (h *stubHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *stubHandle) ExitCode() (int, bool) {
	if h.Running() {
		return 0, false
	}
	return 0, true
}

func (h *stubHandle) Done() <-chan struct{}         { return h.done }
func (h *stubHandle) Err() error                    { return nil }
func (h *stubHandle) Logs() <-chan runtime.LogEntry { return h.logs }

func (h *stubHandle) Stop(stdcontext.Context) error {
	h.finish()
	return nil
}

func (h *stubHandle) Kill(stdcontext.Context) error {
	h.finish()
	return nil
}

type stubRuntime struct {
	mu    sync.Mutex
	specs []runtime.Spec
}

func (r *stubRuntime) Start(ctx stdcontext.Context, spec runtime.Spec) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return newStubHandle(), nil
}

func (r *stubRuntime) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

type closedWindow struct{ done chan struct{} }

func (w *closedWindow) Done() <-chan struct{} { return w.done }
func (w *closedWindow) Close() error          { return nil }

// stubOpener returns windows the user has already closed, which ends a run
// right after readiness.
type stubOpener struct {
	mu    sync.Mutex
	specs []window.Spec
}

func (o *stubOpener) Open(ctx stdcontext.Context, spec window.Spec) (window.Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.specs = append(o.specs, spec)
	done := make(chan struct{})
	close(done)
	return &closedWindow{done: done}, nil
}

func (o *stubOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.specs)
}

// listeningPort starts an HTTP server and returns its port.
func listeningPort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return n
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func writeManifestFile(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`version: "1"
name: demo
lockFile: demo.lock
server:
  command: python3
  args: ["-m", "http.server"]
readiness:
  kind: http
  port: %d
  interval: 50ms
  timeout: 400ms
window:
  mode: none
%s`, port, extra)
	path := filepath.Join(dir, "launcher.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func newTestContext(path string, rt runtime.Runtime, opener window.Opener) *context {
	return &context{
		manifestFile: &path,
		newRuntime:   func() runtime.Runtime { return rt },
		newOpener:    func(*slog.Logger) window.Opener { return opener },
	}
}

func executeCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SetContext(stdcontext.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
