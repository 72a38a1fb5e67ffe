package cli

import (
	"errors"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
	"joblog/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start NAME -- COMMAND [ARG...]",
	Short: "Runs a shell command as a tracked job",
	Long: `Runs a shell command inside a job session named NAME. Standard output is recorded as the run's
log text and standard error as its error text. The command fails to start if another run of NAME is
still alive, unless --parallel is given.`,
	Example: `  jlctl start backup -- pg_dump -f "/backups/db dump.sql" app
  jlctl start report -- 'generate-report | mail -s report ops@example.com'`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.MustNew(cmd)
		defer a.Close()

		parallel, _ := cmd.Flags().GetBool("parallel")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		retries, _ := cmd.Flags().GetInt("retries")

		err := worker.NewWorker(a.Runner).Execute(cmd.Context(), worker.Command{
			Name:       args[0],
			Command:    shellCommand(args[1:]),
			Timeout:    timeout,
			MaxRetries: retries,
			Parallel:   parallel,
		})

		// pass the command's own exit status through
		var cmdErr *worker.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 && cmdErr.ExitCode < 256 {
			return &exitError{code: cmdErr.ExitCode, err: err}
		}
		return err
	},
}

// shellCommand turns the arguments after NAME into the string given to sh -c. A single argument is
// taken as a complete shell command; several are quoted so each reaches the command as typed.
func shellCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellquote.Join(args...)
}

func init() {
	startCmd.Flags().Bool("parallel", false, "allow this run to overlap other live runs of the same name")
	startCmd.Flags().Duration("timeout", 0*time.Second, "kill the command after this long. 0 disables the timeout")
	startCmd.Flags().Int("retries", 1, "number of attempts before the run is recorded as failed")
}
