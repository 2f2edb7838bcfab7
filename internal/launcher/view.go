package launcher

import (
	"context"
	"log/slog"
	"sync"
)

// LoadingView is the screen shown while the server starts. All methods except
// Run must be safe to call from any goroutine.
type LoadingView interface {
	// Run blocks until the view is closed, either by Close, by ctx or by the
	// user.
	Run(ctx context.Context) error
	SetStatus(message string)
	ShowFailure(message string)
	AppendLog(line string)
	// Commands carries retry and close requests made through the view.
	Commands() <-chan Command
	Close()
}

// LogView is a LoadingView for headless runs: status changes go to the
// logger and no commands are ever issued.
type LogView struct {
	logger *slog.Logger
	once   sync.Once
	done   chan struct{}
}

// NewLogView returns a headless LoadingView.
func NewLogView(logger *slog.Logger) *LogView {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogView{logger: logger, done: make(chan struct{})}
}

func (v *LogView) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-v.done:
	}
	return nil
}

func (v *LogView) SetStatus(message string) {
	v.logger.Info(message)
}

func (v *LogView) ShowFailure(message string) {
	v.logger.Error(message)
}

// AppendLog is a no-op; server output is already logged by the supervisor.
func (v *LogView) AppendLog(string) {}

func (v *LogView) Commands() <-chan Command {
	return nil
}

func (v *LogView) Close() {
	v.once.Do(func() { close(v.done) })
}
