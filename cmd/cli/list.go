package cli

import (
	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
	"joblog/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		stateNames, _ := cmd.Flags().GetStringSlice("state")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := models.RunFilter{Name: name, Limit: limit, NewestFirst: true}
		for _, s := range stateNames {
			state, err := models.ParseRunState(s)
			if err != nil {
				return err
			}
			filter.States = append(filter.States, state)
		}

		a := app.MustNew(cmd)
		defer a.Close()

		runs, err := a.Registry.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func init() {
	listCmd.Flags().StringP("name", "n", "", "only runs of this job")
	listCmd.Flags().StringSliceP("state", "s", nil, "only runs in these states (running, finished, error, blocked, vanished)")
	listCmd.Flags().IntP("limit", "l", 20, "maximum number of runs")
}
