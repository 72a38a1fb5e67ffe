package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
	"joblog/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Shows a single run with its log and error text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.MustNew(cmd)
		defer a.Close()

		run, err := a.Registry.Get(cmd.Context(), args[0])
		if errors.Is(err, store.ErrRecordNotFound) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unknown id '%s'\n", args[0])
			return nil
		} else if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), run)
	},
}
