package cmd

import (
	"github.com/spf13/cobra"

	"gantry/internal/app"
)

func newUpCmd() *cobra.Command {
	var configPath string
	var definitionPath string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the application and run until stopped",
		Long: `Start every resource in the application definition, wait for the whole
application to become ready, then keep running until interrupted or
stopped via the control-plane API.

Once ready, gantry prints a single JSON line with every allocated
endpoint, for tooling that wraps it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := app.Bootstrap(cmd.Context(), configPath, definitionPath)
			if err != nil {
				return err
			}
			return host.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "gantry.yaml", "host configuration file")
	cmd.Flags().StringVarP(&definitionPath, "file", "f", "app.yaml", "application definition file")
	return cmd
}
