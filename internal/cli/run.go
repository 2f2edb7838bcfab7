package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/config"
	"github.com/Paintersrp/serverlaunch/internal/instance"
	"github.com/Paintersrp/serverlaunch/internal/launcher"
	"github.com/Paintersrp/serverlaunch/internal/logging"
	"github.com/Paintersrp/serverlaunch/internal/metrics"
	"github.com/Paintersrp/serverlaunch/internal/supervisor"
	"github.com/Paintersrp/serverlaunch/internal/tui"
	"github.com/Paintersrp/serverlaunch/internal/window"
)

// stopSlack is added to the server grace period when bounding teardown.
const stopSlack = 5 * time.Second

type runOptions struct {
	headless      bool
	windowMode    string
	timeout       time.Duration
	exitOnFailure bool
}

func bindRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Skip the terminal loading screen and log progress instead")
	cmd.Flags().StringVar(&opts.windowMode, "window", "", "Override the window mode (app, browser or none)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Override the readiness timeout")
	cmd.Flags().BoolVar(&opts.exitOnFailure, "exit-on-failure", false, "Exit instead of offering a retry when the server is not ready")
}

func newRunCmd(ctx *context) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the server, wait for readiness and open the main window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, ctx, opts)
		},
	}
	bindRunFlags(cmd, opts)
	return cmd
}

func (o *runOptions) apply(m *config.Manifest) error {
	if o.windowMode != "" {
		m.Window.Mode = o.windowMode
	}
	if o.timeout > 0 {
		m.Readiness.Timeout.Duration = o.timeout
	}
	return m.Validate()
}

func runLauncher(cmd *cobra.Command, ctx *context, opts *runOptions) error {
	m, err := ctx.loadManifest()
	if err != nil {
		return err
	}
	if err := opts.apply(m); err != nil {
		return err
	}

	interactive := !opts.headless && supportsInteractiveOutput(cmd)
	console := cmd.ErrOrStderr()
	if interactive {
		console = io.Discard
	}
	logger, logCloser, err := logging.New(m.Logging, logging.Options{Console: console, SetDefault: true})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	lock, err := instance.Acquire(m.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release instance lock", "err", err)
		}
	}()

	metrics.EmitBuildInfo()
	sup := supervisor.New(m.Name,
		supervisor.WithRuntime(ctx.newRuntime()),
		supervisor.WithLogger(logger),
		supervisor.WithPollInterval(m.Readiness.Interval.Duration),
	)

	var view launcher.LoadingView
	if interactive {
		view = tui.New(tui.WithTitle(displayTitle(m)))
	} else {
		view = launcher.NewLogView(logger)
	}

	cfg := launcher.Config{
		Spec:          m.ProcessSpec(),
		Target:        m.Target(),
		Timeout:       m.Readiness.Timeout.Duration,
		Window:        windowSpec(m),
		ExitOnFailure: opts.exitOnFailure || (!interactive && !m.Control.Enabled),
		StopTimeout:   m.Server.GracePeriod.Duration + stopSlack,
		Version:       metrics.Version(),
	}
	l := launcher.New(cfg, sup, view, ctx.newOpener(logger), logger)

	runCtx, cancel := stdcontext.WithCancel(cmd.Context())
	defer cancel()

	if m.Control.Enabled {
		stopAPI, err := startControlAPI(runCtx, cmd, m.Control.Addr, l)
		if err != nil {
			return err
		}
		defer func() {
			if err := stopAPI(); err != nil {
				logger.Warn("stop control API", "err", err)
			}
		}()
	}

	logger.Info("launching server",
		"manifest", m.Path,
		"command", m.Server.Command,
		"target", m.Target().Address(),
		"timeout", m.Readiness.Timeout.Duration,
	)
	if err := l.Run(runCtx); err != nil {
		if errors.Is(err, launcher.ErrNotReady) {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
		return err
	}
	return nil
}

func displayTitle(m *config.Manifest) string {
	if m.Window.Title != "" {
		return m.Window.Title
	}
	return m.Name
}

func windowSpec(m *config.Manifest) window.Spec {
	return window.Spec{
		URL:    m.Window.URL,
		Title:  displayTitle(m),
		Width:  m.Window.Width,
		Height: m.Window.Height,
		Mode:   m.Window.Mode,
	}
}
