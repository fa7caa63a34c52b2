package cmd

import (
	"github.com/spf13/cobra"

	"gantry/internal/config"
	"gantry/internal/dependency"
	"gantry/internal/formatting"
)

func newValidateCmd() *cobra.Command {
	var definitionPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an application definition without starting it",
		Long: `Parse the application definition, run all structural validation
(duplicate names, unknown references, dependency cycles, malformed
endpoints and health checks) and print the resources with their
computed startup order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := config.LoadDefinition(definitionPath)
			if err != nil {
				return err
			}
			graph, err := dependency.New(application)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			formatting.ResourceTable(out, application)
			formatting.StartupOrder(out, graph)
			return nil
		},
	}

	cmd.Flags().StringVarP(&definitionPath, "file", "f", "app.yaml", "application definition file")
	return cmd
}
