package staging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ojsbot-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	payload := strings.Repeat("ojs", 50_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/paper.pdf":
			w.Write([]byte(payload))
		case "/redirect":
			http.Redirect(w, r, "/paper.pdf", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tel := telemetry.NewRecordingAPI()
	fetcher := NewFetcher(FetcherOptions{Timeout: time.Second * 5, Tel: tel})
	dir := t.TempDir()

	for _, link := range []string{"/paper.pdf", "/redirect"} {
		dest := filepath.Join(dir, filepath.Base(link))
		file, err := fetcher.Fetch(context.Background(), server.URL+link, dest)
		require.NoError(t, err)
		require.Equal(t, int64(len(payload)), file.Size)
		require.Equal(t, server.URL+link, file.SourceUrl)

		contents, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, payload, string(contents))
	}
}

func TestFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	tel := telemetry.NewRecordingAPI()
	fetcher := NewFetcher(FetcherOptions{Timeout: time.Second * 5, Tel: tel})
	dest := filepath.Join(t.TempDir(), "missing.pdf")

	_, err := fetcher.Fetch(context.Background(), server.URL+"/missing.pdf", dest)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, server.URL+"/missing.pdf", fetchErr.Url)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
	require.NotEmpty(t, tel.Find(telemetry.KindWarning, report_fetcher_fetch))
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: time.Second * 2, Tel: telemetry.NewRecordingAPI()})
	_, err := fetcher.Fetch(context.Background(), url+"/file", filepath.Join(t.TempDir(), "file"))
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
}
