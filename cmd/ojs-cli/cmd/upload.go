package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"ojsbot-backend/services/uploader"

	"github.com/spf13/cobra"
)

var (
	uploadJournal    string
	uploadSubmission string
	uploadLinksFile  string
	uploadHost       string
	uploadUsername   string
	uploadPassword   string
	uploadWait       bool
)

func init() {
	uploadCmd.Flags().StringVarP(&uploadJournal, "journal", "j", "", "Id of a stored journal.")
	uploadCmd.Flags().StringVarP(&uploadSubmission, "submission", "s", "", "Submission id, defaults to the journal's or the first listed one.")
	uploadCmd.Flags().StringVarP(&uploadLinksFile, "links-file", "f", "", "File with one link per line.")
	uploadCmd.Flags().StringVar(&uploadHost, "host", "", "Journal host, used when --journal is not given.")
	uploadCmd.Flags().StringVar(&uploadUsername, "username", "", "Journal username, used with --host.")
	uploadCmd.Flags().StringVar(&uploadPassword, "password", os.Getenv("OJS_PASSWORD"), "Journal password, used with --host (env OJS_PASSWORD).")
	uploadCmd.Flags().BoolVarP(&uploadWait, "wait", "w", false, "Wait for the run to finish.")
	rootCmd.AddCommand(uploadCmd)
}

func readLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var links []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		links = append(links, line)
	}
	return links, scanner.Err()
}

var uploadCmd = &cobra.Command{
	Use:   "upload [links...]",
	Short: "Starts a run that uploads the files behind the links to a submission.",
	RunE: func(cmd *cobra.Command, args []string) error {
		links := args
		if uploadLinksFile != "" {
			fromFile, err := readLinks(uploadLinksFile)
			if err != nil {
				return fmt.Errorf("read links: %w", err)
			}
			links = append(links, fromFile...)
		}

		req := &uploader.StartUploadRequest{
			JournalId:    uploadJournal,
			Links:        links,
			SubmissionId: uploadSubmission,
		}
		if uploadJournal == "" {
			req.Target = &uploader.Target{
				Host:     uploadHost,
				Username: uploadUsername,
				Password: uploadPassword,
			}
		}

		client := newClient()
		res, err := client.StartUpload(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Message, res.RunId)
		if !uploadWait {
			return nil
		}

		ticker := time.NewTicker(time.Second * 2)
		defer ticker.Stop()
		lastStage := ""
		for {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-ticker.C:
			}
			run, err := client.GetRun(cmd.Context(), res.RunId)
			if err != nil {
				return err
			}
			progress := fmt.Sprintf("%s %s (%d/%d fetched, %d/%d uploaded)",
				run.Run.Status, run.Run.Stage, run.Run.Fetched, run.Run.Links, run.Run.Uploaded, run.Run.Units)
			if progress != lastStage {
				fmt.Println(progress)
				lastStage = progress
			}
			if run.Run.Status.Finished() {
				printRun(run.Run)
				return nil
			}
		}
	},
}
