package cmd

import (
	"fmt"
	"time"

	"ojsbot-backend/internal/runner"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runsCmd)
}

func printRun(run runner.Run) {
	t := newTable()
	t.AppendRows([]table.Row{
		{"Id", run.Id},
		{"Journal", run.Host},
		{"User", run.Username},
		{"Submission", run.SubmissionId},
		{"Status", run.Status},
		{"Links", fmt.Sprintf("%d (%d fetched)", run.Links, run.Fetched)},
		{"Units", fmt.Sprintf("%d (%d uploaded)", run.Units, run.Uploaded)},
		{"Report", run.Report},
		{"Error", run.Error},
		{"Created", run.CreatedAt.Format(time.DateTime)},
		{"Updated", run.UpdatedAt.Format(time.DateTime)},
	})
	t.Render()

	for _, line := range run.Logs {
		fmt.Println(line)
	}
}

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Lists recent runs, or shows one run with its log.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if len(args) == 1 {
			res, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(res.Run)
			return nil
		}

		res, err := client.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		t := newTable()
		t.AppendHeader(table.Row{"Id", "Journal", "Submission", "Status", "Uploaded", "Created"})
		for _, run := range res.Runs {
			t.AppendRow(table.Row{
				shortId(run.Id),
				run.Host,
				run.SubmissionId,
				run.Status,
				fmt.Sprintf("%d/%d", run.Uploaded, run.Units),
				run.CreatedAt.Format(time.DateTime),
			})
		}
		t.Render()
		return nil
	},
}
