package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/serverlaunch/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with launcher manifests",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigPrintCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate a launcher manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.loadManifest()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", m.Path)
			return nil
		},
	}
}

func newConfigPrintCmd(ctx *context) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the resolved manifest with includes, overrides and defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			if !showSecrets {
				m = m.Redacted()
			}
			data, err := config.Encode(m)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secret-looking env values instead of masking them")
	return cmd
}
