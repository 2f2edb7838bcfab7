package runtime

import (
	"context"
	"time"
)

const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "serverlaunch"
)

// LogEntry is a single line of output captured from a supervised process.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
	Level     string
}

// Spec describes the server process to launch.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Workdir string
	Env     map[string]string

	// GracePeriod bounds how long a graceful stop waits before escalating to a
	// forceful kill. Zero selects the runtime default.
	GracePeriod time.Duration
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	cp := s
	if len(s.Args) > 0 {
		cp.Args = append([]string(nil), s.Args...)
	}
	if len(s.Env) > 0 {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	return cp
}

// Handle represents at most one live child process.
type Handle interface {
	// PID returns the process identifier while the process is running and
	// zero once termination has been observed.
	PID() int

	// Running reports whether the process has not yet been observed to exit.
	Running() bool

	// ExitCode returns the exit status once the process has terminated.
	ExitCode() (int, bool)

	// Done is closed once termination has been observed.
	Done() <-chan struct{}

	// Err returns the wait error once Done is closed.
	Err() error

	// Logs returns captured stdout/stderr lines. The channel is closed once
	// both streams reach EOF.
	Logs() <-chan LogEntry

	// Stop terminates the process using the platform's graceful semantics,
	// escalating to a forceful kill if required. Safe to call repeatedly.
	Stop(ctx context.Context) error

	// Kill forcefully terminates the process and its descendants.
	Kill(ctx context.Context) error
}

// Runtime launches server processes.
type Runtime interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, spec Spec) (Handle, error)

// Start calls f(ctx, spec).
func (f RuntimeFunc) Start(ctx context.Context, spec Spec) (Handle, error) {
	return f(ctx, spec)
}
