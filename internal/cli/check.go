package cli

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/launcher"
	"github.com/Paintersrp/serverlaunch/internal/logging"
	"github.com/Paintersrp/serverlaunch/internal/supervisor"
)

func newCheckCmd(ctx *context) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Start the server, wait for readiness and stop it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			if timeout > 0 {
				m.Readiness.Timeout.Duration = timeout
				if err := m.Validate(); err != nil {
					return err
				}
			}

			logger, logCloser, err := logging.New(m.Logging, logging.Options{Console: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer logCloser.Close()

			sup := supervisor.New(m.Name,
				supervisor.WithRuntime(ctx.newRuntime()),
				supervisor.WithLogger(logger),
				supervisor.WithPollInterval(m.Readiness.Interval.Duration),
			)
			drained := make(chan struct{})
			stopDrain := make(chan struct{})
			go func() {
				defer close(drained)
				for {
					select {
					case <-sup.Events():
					case <-stopDrain:
						return
					}
				}
			}()

			started := time.Now()
			if _, err := sup.Start(cmd.Context(), m.ProcessSpec()); err != nil {
				logger.Error("start server", "err", err)
			}
			ready := sup.WaitUntilReady(cmd.Context(), m.Target(), m.Readiness.Timeout.Duration)
			elapsed := time.Since(started)
			snap := sup.Snapshot()

			stopCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), m.Server.GracePeriod.Duration+stopSlack)
			defer cancel()
			if err := sup.Close(stopCtx); err != nil {
				logger.Warn("stop server", "err", err)
			}
			close(stopDrain)
			<-drained

			if !ready {
				fmt.Fprintf(cmd.OutOrStdout(), "%s not ready at %s: %s (%s)\n", m.Name, m.Target().Address(), snap.LastReason, snap.LastError)
				return fmt.Errorf("%s: %w", m.Name, launcher.ErrNotReady)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ready at %s after %s\n", m.Name, m.Target().Address(), elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override the readiness timeout")
	return cmd
}
