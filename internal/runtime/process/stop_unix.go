//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func (p *processInstance) Stop(ctx context.Context) error {
	return p.terminate(ctx, false)
}

func (p *processInstance) Kill(ctx context.Context) error {
	return p.terminate(ctx, true)
}

func (p *processInstance) terminate(ctx context.Context, force bool) error {
	if !p.Running() {
		// The leader is gone but workers may still hold the group.
		_ = p.signalGroup(unix.SIGKILL)
		return nil
	}

	if !force {
		if err := p.signalGroup(unix.SIGTERM); err != nil {
			return err
		}

		timer := time.NewTimer(p.grace)
		select {
		case <-p.waitDone:
			timer.Stop()
			_ = p.signalGroup(unix.SIGKILL)
			return nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := p.signalGroup(unix.SIGKILL); err != nil {
		return err
	}
	return p.awaitExit(ctx)
}

func (p *processInstance) signalGroup(sig unix.Signal) error {
	if err := unix.Kill(-p.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", p.name, err)
	}
	return nil
}
