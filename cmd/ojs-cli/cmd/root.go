package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"ojsbot-backend/lib/serviceutil"
	"ojsbot-backend/services/uploader"

	"connectrpc.com/connect"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	baseUrl     string
	accessToken string
)

var rootCmd = &cobra.Command{
	Use:          "ojs-cli",
	Short:        "ojs-cli is a CLI for the OJS upload service.",
	SilenceUsage: true,
}

func init() {
	defaultUrl, ok := os.LookupEnv("OJS_BASE_URL")
	if !ok {
		defaultUrl = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&baseUrl, "url", defaultUrl, "Base url of the upload service (env OJS_BASE_URL).")
	rootCmd.PersistentFlags().StringVar(&accessToken, "token", os.Getenv("OJS_ACCESS_TOKEN"), "Access token of the upload service (env OJS_ACCESS_TOKEN).")
}

func newClient() uploader.Client {
	var opts []connect.ClientOption
	if accessToken != "" {
		opts = append(opts, connect.WithInterceptors(serviceutil.ProvideAccessTokenInterceptor(accessToken)))
	}
	return uploader.NewClient(&http.Client{Timeout: time.Second * 30}, baseUrl, opts...)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
