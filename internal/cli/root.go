package cli

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/config"
	"github.com/Paintersrp/serverlaunch/internal/runtime"
	"github.com/Paintersrp/serverlaunch/internal/runtime/process"
	"github.com/Paintersrp/serverlaunch/internal/window"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifestFile string
	ctx := &context{
		manifestFile: &manifestFile,
		newRuntime:   process.New,
		newOpener: func(logger *slog.Logger) window.Opener {
			return window.NewLauncher(logger)
		},
	}
	opts := &runOptions{}

	root := &cobra.Command{
		Use:   "serverlaunch",
		Short: "Start a local web server and open it once it accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, ctx, opts)
		},
	}

	root.PersistentFlags().
		StringVarP(&manifestFile, "file", "f", config.DefaultManifestName, "Path to launcher manifest")
	bindRunFlags(root, opts)

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newCheckCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	manifestFile *string
	newRuntime   func() runtime.Runtime
	newOpener    func(*slog.Logger) window.Opener
}

func (c *context) loadManifest() (*config.Manifest, error) {
	return config.Load(*c.manifestFile)
}
