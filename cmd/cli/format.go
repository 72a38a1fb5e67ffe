package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"joblog/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

func formatDuration(run *models.Run) string {
	d, ok := run.Duration()
	if !ok {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatEnded(run *models.Run) string {
	if !run.EndedAt.Valid {
		return "-"
	}
	return run.EndedAt.Time.Format(timeLayout)
}

// printRuns writes one table row per run
func printRuns(w io.Writer, runs []models.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCOUNT\tSTATE\tSTARTED\tDURATION")
	for i := range runs {
		run := &runs[i]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			run.ID, run.Name, run.Count, run.State, run.StartedAt.Format(timeLayout), formatDuration(run))
	}
	return tw.Flush()
}

// printRun writes every field of a run, the texts last
func printRun(w io.Writer, run *models.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	_, _ = fmt.Fprintf(tw, "id:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(tw, "name:\t%s\n", run.Name)
	_, _ = fmt.Fprintf(tw, "count:\t%d\n", run.Count)
	_, _ = fmt.Fprintf(tw, "state:\t%s\n", run.State)
	_, _ = fmt.Fprintf(tw, "started:\t%s\n", run.StartedAt.Format(timeLayout))
	_, _ = fmt.Fprintf(tw, "ended:\t%s\n", formatEnded(run))
	_, _ = fmt.Fprintf(tw, "duration:\t%s\n", formatDuration(run))
	if err := tw.Flush(); err != nil {
		return err
	}

	if run.LogText.Valid {
		_, _ = fmt.Fprintf(w, "\nlog:\n%s\n", indent(run.LogText.String))
	}
	if run.ErrorText.Valid {
		_, _ = fmt.Fprintf(w, "\nerror:\n%s\n", indent(run.ErrorText.String))
	}
	return nil
}

func indent(text string) string {
	return "  " + strings.ReplaceAll(text, "\n", "\n  ")
}
