//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Stop performs a forceful tree kill; descendants do not receive console
// signals from their parent on windows.
func (p *processInstance) Stop(ctx context.Context) error {
	return p.Kill(ctx)
}

func (p *processInstance) Kill(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !p.Running() {
		return nil
	}

	kill := exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(p.pid), "/T", "/F")
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := kill.Run(); err != nil {
		// taskkill fails when the process exited in the meantime.
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) && p.Running() {
			return fmt.Errorf("kill process tree %s: %w", p.name, err)
		}
	}
	return p.awaitExit(ctx)
}
