package launcher

import (
	"context"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/api"
	"github.com/Paintersrp/serverlaunch/internal/supervisor"
)

var _ api.Controller = (*Launcher)(nil)

// Status reports the supervisor snapshot together with the launcher phase.
func (l *Launcher) Status(ctx context.Context) (*api.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := l.sup.Snapshot()
	target := snap.Target
	if target.Port == 0 {
		target = l.cfg.Target
	}
	return &api.Status{
		Server:      snap.Server,
		Phase:       string(l.Phase()),
		State:       string(snap.State),
		Ready:       snap.State == supervisor.StateReady,
		PID:         snap.PID,
		Attempt:     snap.Attempt,
		AttemptID:   snap.AttemptID,
		LastReason:  string(snap.LastReason),
		LastError:   snap.LastError,
		Target:      target.Address(),
		WindowURL:   l.cfg.Window.URL,
		StartedAt:   snap.StartedAt,
		ReadyAt:     snap.ReadyAt,
		GeneratedAt: time.Now().UTC(),
		Version:     l.cfg.Version,
	}, nil
}

// Retry asks the running launcher for a new attempt. The outcome is reported
// through Status once the readiness wait finishes.
func (l *Launcher) Retry(ctx context.Context) (*api.RetryResult, error) {
	requested := time.Now().UTC()
	if err := l.Submit(ctx, CommandRetry); err != nil {
		return nil, err
	}
	return &api.RetryResult{Accepted: true, RequestedAt: requested}, nil
}

// Close ends the launcher run and stops the server.
func (l *Launcher) Close(ctx context.Context) error {
	return l.Submit(ctx, CommandClose)
}
