package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation pass and exit",
		Long: `Run one escalation pass over overdue steps and exit.

The pass takes the same lease as the in-process sweeper, so it is safe to
run from an external scheduler alongside "serve --no-sweep".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.startContainer(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer closeContainer(c, app.Logger)

			ran, err := c.EscalationWorker().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				printf(cmd.OutOrStdout(), "lease held elsewhere, pass skipped\n")
				return nil
			}
			printf(cmd.OutOrStdout(), "escalation pass completed\n")
			return nil
		},
	}
}
