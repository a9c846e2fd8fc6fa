package cmd

import (
	"fmt"
	"os"
	"time"

	"ojsbot-backend/services/uploader"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var journalInput uploader.JournalInput

func init() {
	for _, c := range []*cobra.Command{journalsAddCmd, journalsUpdateCmd} {
		c.Flags().StringVar(&journalInput.Name, "name", "", "Display name.")
		c.Flags().StringVar(&journalInput.Host, "host", "", "Journal url, ex. https://revistas.example.edu/index.php/ciencia")
		c.Flags().StringVar(&journalInput.Username, "username", "", "Login username.")
		c.Flags().StringVar(&journalInput.Password, "password", os.Getenv("OJS_PASSWORD"), "Login password (env OJS_PASSWORD).")
		c.Flags().StringVar(&journalInput.DefaultSubmissionId, "submission", "", "Default submission id.")
	}

	journalsCmd.AddCommand(journalsListCmd, journalsAddCmd, journalsUpdateCmd, journalsRmCmd)
	rootCmd.AddCommand(journalsCmd)
}

var journalsCmd = &cobra.Command{
	Use:   "journals",
	Short: "Manages the stored journals.",
}

var journalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the stored journals.",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().ListJournals(cmd.Context())
		if err != nil {
			return err
		}
		t := newTable()
		t.AppendHeader(table.Row{"Id", "Name", "Host", "Username", "Submission", "Updated"})
		for _, j := range res.Journals {
			t.AppendRow(table.Row{j.Id, j.Name, j.Host, j.Username, j.DefaultSubmissionId, j.UpdatedAt.Format(time.DateTime)})
		}
		t.Render()
		return nil
	},
}

var journalsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Stores a journal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().AddJournal(cmd.Context(), journalInput)
		if err != nil {
			return err
		}
		fmt.Printf("added journal %s (%s)\n", res.Journal.Id, res.Journal.Name)
		return nil
	},
}

var journalsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Changes the given fields of a stored journal.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().UpdateJournal(cmd.Context(), args[0], journalInput)
		if err != nil {
			return err
		}
		fmt.Printf("updated journal %s (%s)\n", res.Journal.Id, res.Journal.Name)
		return nil
	},
}

var journalsRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Deletes stored journals.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		for _, id := range args {
			err := client.DeleteJournal(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Println("deleted", id)
		}
		return nil
	},
}
