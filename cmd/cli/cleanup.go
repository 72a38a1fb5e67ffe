package cli

import (
	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Marks runs whose process died as vanished",
	Long: `Examines every run in running state and marks the ones whose heartbeat has gone stale as
vanished. The judgement relies on heartbeats, so the sweep refuses to run unless joblog.ping is
enabled or --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.MustNew(cmd)
		defer a.Close()

		force := a.Config.Cleanup.Force
		if cmd.Flags().Changed("force") {
			force, _ = cmd.Flags().GetBool("force")
		}

		_, err := a.Runner.Cleanup(cmd.Context(), force)
		return err
	},
}

func init() {
	cleanupCmd.Flags().BoolP("force", "f", false, "run even when ping mode is disabled")
}
