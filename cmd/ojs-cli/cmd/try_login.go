package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/scrapers/ojs"
	"ojsbot-backend/lib/restyutil"
	libtelemetry "ojsbot-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	loginHost     string
	loginUsername string
	loginPassword string
	loginVerbose  bool
)

func init() {
	tryLoginCmd.Flags().StringVar(&loginHost, "host", "", "Journal url.")
	tryLoginCmd.Flags().StringVar(&loginUsername, "username", "", "Login username.")
	tryLoginCmd.Flags().StringVar(&loginPassword, "password", os.Getenv("OJS_PASSWORD"), "Login password (env OJS_PASSWORD).")
	tryLoginCmd.Flags().BoolVarP(&loginVerbose, "verbose", "v", false, "Log debug output and dump http exchanges to .dev/resty/try-login.")
	tryLoginCmd.MarkFlagRequired("host")
	tryLoginCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(tryLoginCmd)
}

var tryLoginCmd = &cobra.Command{
	Use:   "try-login",
	Short: "Logs into a journal locally and lists its submissions, without the upload service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		libtelemetry.InitSlog(loginVerbose)

		var output restyutil.InstrumentOutput
		if loginVerbose {
			fsOutput, err := restyutil.NewFilesystemOutput(filepath.Join(".dev", "resty", "try-login"))
			if err != nil {
				return err
			}
			output = fsOutput
		}

		clock, err := chrono.NewStandardImpl("")
		if err != nil {
			return err
		}
		session, err := ojs.NewSession(ojs.SessionOptions{
			Host:             loginHost,
			Username:         loginUsername,
			Password:         loginPassword,
			Timeout:          time.Second * 30,
			Clock:            clock,
			Tel:              telemetry.SlogAPI{},
			InstrumentOutput: output,
		})
		if err != nil {
			return err
		}
		defer func() {
			for _, line := range session.Logs(0) {
				fmt.Println(line)
			}
		}()

		err = session.Authenticate(cmd.Context())
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		token, ok := session.Token()
		if ok {
			fmt.Printf("logged in, csrf token from %s\n", token.Source)
		} else {
			fmt.Println("logged in, no csrf token found")
		}

		ids, err := session.ListSubmissions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("submissions: %v\n", ids)
		return nil
	},
}
