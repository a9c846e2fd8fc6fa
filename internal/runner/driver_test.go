package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/scrapers/ojs"
	"ojsbot-backend/internal/scrapers/ojs/ojstest"
	"ojsbot-backend/internal/staging"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testTime = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type fixture struct {
	driver   *Driver
	area     staging.Area
	reporter Reporter
	tel      *telemetry.RecordingAPI
	clock    *chrono.Frozen
}

func newFixture(t *testing.T, fetcher Fetcher, ceiling int64) fixture {
	t.Helper()
	root := t.TempDir()
	tel := telemetry.NewRecordingAPI()
	clock := chrono.NewFrozen(testTime)

	area, err := staging.NewArea(filepath.Join(root, "staging"))
	require.NoError(t, err)
	reporter, err := NewReporter(filepath.Join(root, "reports"), clock)
	require.NoError(t, err)
	if fetcher == nil {
		fetcher = staging.NewFetcher(staging.FetcherOptions{Timeout: time.Second * 5, Tel: tel})
	}

	return fixture{
		driver: NewDriver(DriverOptions{
			Area:     area,
			Fetcher:  fetcher,
			Reporter: reporter,
			Ceiling:  ceiling,
			Tel:      tel,
		}),
		area:     area,
		reporter: reporter,
		tel:      tel,
		clock:    clock,
	}
}

func (f fixture) requireStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.area.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func (f fixture) reports(t *testing.T) []ReportInfo {
	t.Helper()
	reports, err := f.reporter.List()
	require.NoError(t, err)
	return reports
}

func newSiteSession(t *testing.T, site *ojstest.Site, clock chrono.API) *ojs.Session {
	t.Helper()
	s, err := ojs.NewSession(ojs.SessionOptions{
		Host:      site.URL,
		Username:  ojstest.Username,
		Password:  ojstest.Password,
		RateLimit: rate.Inf,
		Timeout:   time.Second * 5,
		Clock:     clock,
		Tel:       telemetry.NewRecordingAPI(),
	})
	require.NoError(t, err)
	return s
}

// newFileServer serves /ok/<name> with size bytes of content and 404s
// everything else.
func newFileServer(t *testing.T, size int) *httptest.Server {
	t.Helper()
	payload := strings.Repeat("x", size)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ok/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestUploadFromLinksPartialFetch(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{SubmissionIds: []string{"4242"}})
	defer site.Close()
	files := newFileServer(t, 256)

	// every file is larger than the ceiling, so each one is its own unit
	f := newFixture(t, nil, 128)
	s := newSiteSession(t, site, f.clock)

	links := []string{
		files.URL + "/ok/a.pdf",
		files.URL + "/missing/b.pdf",
		files.URL + "/ok/c.docx",
		files.URL + "/missing/d.jpg",
		files.URL + "/ok/e.png",
	}

	var stages []Stage
	out := f.driver.UploadFromLinks(context.Background(), s, "run-1", links, "", func(stage Stage, _ Outcome) {
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	})

	require.NoError(t, out.Err)
	require.True(t, out.Ok())
	require.Equal(t, StatusPartiallySucceeded, out.Status())
	require.Equal(t, "4242", out.SubmissionId)
	require.Equal(t, 5, out.Links)
	require.Equal(t, 3, out.Fetched)
	require.Len(t, out.FetchErrors, 2)
	for _, err := range out.FetchErrors {
		var fetchErr *staging.FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Contains(t, fetchErr.Url, "/missing/")
	}
	require.Equal(t, 3, out.Units)
	require.Len(t, out.Results, 3)
	require.Equal(t, []Stage{StageAuthenticate, StageResolve, StageFetch, StagePack, StageUpload, StageDone}, stages)

	uploads := site.Uploads()
	require.Len(t, uploads, 3)
	var names []string
	for _, upload := range uploads {
		require.Equal(t, "4242", upload.SubmissionId)
		require.Equal(t, 256, upload.Size)
		names = append(names, upload.FileName)
	}
	// positions in the link list are kept
	require.Equal(t, []string{"file_1.pdf", "file_3.docx", "file_5.png"}, names)

	require.NotEmpty(t, out.ReportPath)
	contents, err := os.ReadFile(out.ReportPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "Total files uploaded: 3")
	require.Equal(t, 3, strings.Count(string(contents), "   URL: "+site.URL+"/submission/4242#files"))

	f.requireStagingEmpty(t)
}

func TestUploadFromLinksArchivesSmallFiles(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{MetaToken: "meta-token"})
	defer site.Close()
	files := newFileServer(t, 1024)

	f := newFixture(t, nil, 0)
	s := newSiteSession(t, site, f.clock)

	links := []string{files.URL + "/ok/1.pdf", "  ", files.URL + "/ok/3.pdf"}
	out := f.driver.UploadFromLinks(context.Background(), s, "run-2", links, "77", nil)

	require.NoError(t, out.Err)
	require.Equal(t, StatusSucceeded, out.Status())
	require.Equal(t, 2, out.Links)
	require.Equal(t, 1, out.Units)
	require.Len(t, out.Results, 1)
	require.Equal(t, "chunk_1.zip", out.Results[0].FileName)

	uploads := site.Uploads()
	require.Len(t, uploads, 1)
	require.Equal(t, "77", uploads[0].SubmissionId)
	require.Equal(t, "chunk_1.zip", uploads[0].FileName)
	require.Equal(t, "application/zip", uploads[0].ContentType)
	require.Equal(t, "meta-token", uploads[0].CsrfHeader)
	require.Equal(t, "uploadedFile", uploads[0].FileField)

	f.requireStagingEmpty(t)
	require.Len(t, f.reports(t), 1)
}

func TestUploadFromLinksNoSubmissionTarget(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{})
	defer site.Close()
	files := newFileServer(t, 64)

	f := newFixture(t, nil, 0)
	s := newSiteSession(t, site, f.clock)

	out := f.driver.UploadFromLinks(context.Background(), s, "run-3", []string{files.URL + "/ok/a.pdf"}, "", nil)
	require.ErrorIs(t, out.Err, ojs.ErrNoSubmissionTarget)
	require.False(t, out.Ok())
	require.Equal(t, StatusFailed, out.Status())
	require.Empty(t, out.ReportPath)
	require.Empty(t, f.reports(t))
	require.Zero(t, site.UploadCalls())
	f.requireStagingEmpty(t)
}

func TestUploadFromLinksAuthFormNotFound(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{
		LoginPage:     `<html><body><p>Maintenance</p></body></html>`,
		SubmissionIds: []string{"1"},
	})
	defer site.Close()

	f := newFixture(t, nil, 0)
	s := newSiteSession(t, site, f.clock)

	out := f.driver.UploadFromLinks(context.Background(), s, "run-4", []string{"https://files.example/a.pdf"}, "", nil)
	require.ErrorIs(t, out.Err, ojs.ErrAuthFormNotFound)
	require.False(t, s.Authenticated())
	_, hasToken := s.Token()
	require.False(t, hasToken)
	require.Empty(t, f.reports(t))
	f.requireStagingEmpty(t)
}

func TestUploadFromLinksAllUploadsRejected(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{UploadStatus: http.StatusInternalServerError})
	defer site.Close()
	files := newFileServer(t, 64)

	f := newFixture(t, nil, 0)
	s := newSiteSession(t, site, f.clock)

	out := f.driver.UploadFromLinks(context.Background(), s, "run-5", []string{files.URL + "/ok/a.pdf"}, "9", nil)
	require.NoError(t, out.Err)
	require.False(t, out.Ok())
	require.Equal(t, StatusFailed, out.Status())
	require.Len(t, out.UploadErrors, 1)

	var uploadErr *UploadError
	require.ErrorAs(t, out.UploadErrors[0], &uploadErr)
	require.Equal(t, "chunk_1.zip", uploadErr.Unit)
	var statusErr *ojs.StatusError
	require.ErrorAs(t, out.UploadErrors[0], &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Status)

	// a target was resolved, so an empty report is still written
	require.NotEmpty(t, out.ReportPath)
	require.Len(t, f.reports(t), 1)
	require.NotEmpty(t, out.Reason())
	f.requireStagingEmpty(t)
}

type stubSession struct {
	mu            sync.Mutex
	authenticated bool
	authErr       error
	resolveErr    error
	uploadErr     error
	logs          []string
	uploads       []string
}

func (s *stubSession) Host() string     { return "https://journal.example" }
func (s *stubSession) Username() string { return "editor" }

func (s *stubSession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *stubSession) Authenticate(context.Context) error {
	if s.authErr != nil {
		return s.authErr
	}
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return nil
}

func (s *stubSession) ResolveSubmission(context.Context) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return "100", nil
}

func (s *stubSession) UploadUnit(_ context.Context, submissionId, path, fileName string) (ojs.UploadResult, error) {
	if s.uploadErr != nil {
		return ojs.UploadResult{}, s.uploadErr
	}
	_, err := os.Stat(path)
	if err != nil {
		return ojs.UploadResult{}, err
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, fileName)
	s.mu.Unlock()
	return ojs.UploadResult{
		FileName:        fileName,
		RemoteReference: s.Host() + "/submission/" + submissionId + "#files",
		SubmissionId:    submissionId,
		Timestamp:       testTime,
	}, nil
}

func (s *stubSession) Log(format string, args ...any) {
	s.mu.Lock()
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *stubSession) Logs(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.logs) {
		n = len(s.logs)
	}
	return append([]string(nil), s.logs[len(s.logs)-n:]...)
}

// stubFetcher writes a file for every link, links containing "fail" are
// written partially and then reported as failed.
type stubFetcher struct {
	size int
}

func (f stubFetcher) Fetch(_ context.Context, url, destination string) (staging.StagingFile, error) {
	err := os.WriteFile(destination, []byte(strings.Repeat("y", f.size)), 0644)
	if err != nil {
		return staging.StagingFile{}, err
	}
	if strings.Contains(url, "fail") {
		return staging.StagingFile{}, &staging.FetchError{Url: url, Err: errors.New("connection reset")}
	}
	return staging.StagingFile{LocalPath: destination, Size: int64(f.size), SourceUrl: url}, nil
}

// vanishingFetcher loses the staged copy of urls containing "vanish" after
// reporting them as fetched.
type vanishingFetcher struct {
	stubFetcher
}

func (f vanishingFetcher) Fetch(ctx context.Context, url, destination string) (staging.StagingFile, error) {
	file, err := f.stubFetcher.Fetch(ctx, url, destination)
	if err == nil && strings.Contains(url, "vanish") {
		err = os.Remove(destination)
	}
	return file, err
}

func TestUploadFromLinksFailedArchive(t *testing.T) {
	f := newFixture(t, vanishingFetcher{stubFetcher{size: 8}}, 10)
	s := &stubSession{}

	links := []string{
		"https://files.example/a.pdf",
		"https://files.example/vanish.pdf",
		"https://files.example/c.pdf",
	}
	out := f.driver.UploadFromLinks(context.Background(), s, "run", links, "9", nil)

	require.NoError(t, out.Err)
	require.Equal(t, 3, out.Fetched)
	require.Equal(t, 2, out.Units)
	require.Equal(t, []string{"chunk_1.zip", "chunk_3.zip"}, s.uploads)
	require.Len(t, out.PackErrors, 1)
	require.Contains(t, out.PackErrors[0].Error(), "chunk_2.zip")
	require.Equal(t, StatusPartiallySucceeded, out.Status())
	require.Len(t, f.tel.Find(telemetry.KindBroken, report_driver_pack), 1)

	f.requireStagingEmpty(t)
}

func TestCleanupIsUnconditional(t *testing.T) {
	errBoom := errors.New("boom")

	cases := []struct {
		name       string
		session    *stubSession
		links      []string
		expectErr  error
		report     bool
		expectOk   bool
		submission string
	}{
		{
			name:      "authentication fails",
			session:   &stubSession{authErr: ojs.ErrAuthRejected},
			links:     []string{"https://files.example/a.pdf"},
			expectErr: ojs.ErrAuthRejected,
		},
		{
			name:      "no submission target",
			session:   &stubSession{resolveErr: ojs.ErrNoSubmissionTarget},
			links:     []string{"https://files.example/a.pdf"},
			expectErr: ojs.ErrNoSubmissionTarget,
		},
		{
			name:      "every fetch fails",
			session:   &stubSession{},
			links:     []string{"https://files.example/fail-1.pdf", "https://files.example/fail-2.pdf"},
			expectErr: ErrNoFilesFetched,
			report:    true,
		},
		{
			name:    "every upload fails",
			session: &stubSession{uploadErr: errBoom},
			links:   []string{"https://files.example/a.pdf", "https://files.example/b.pdf"},
			report:  true,
		},
		{
			name:       "everything works",
			session:    &stubSession{},
			links:      []string{"https://files.example/a.pdf", "https://files.example/fail.pdf", "https://files.example/b.pdf"},
			report:     true,
			expectOk:   true,
			submission: "55",
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture(t, stubFetcher{size: 32}, 0)
			out := f.driver.UploadFromLinks(context.Background(), testCase.session, "run", testCase.links, testCase.submission, nil)

			if testCase.expectErr != nil {
				require.ErrorIs(t, out.Err, testCase.expectErr)
			} else {
				require.NoError(t, out.Err)
			}
			require.Equal(t, testCase.expectOk, out.Ok())
			require.NoError(t, out.CleanupErr)
			f.requireStagingEmpty(t)

			if testCase.report {
				require.Len(t, f.reports(t), 1)
				require.NotEmpty(t, out.ReportPath)
			} else {
				require.Empty(t, f.reports(t))
				require.Empty(t, out.ReportPath)
			}
		})
	}
}

func TestUploadFromLinksSkipsAuthenticationWhenLoggedIn(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	s := &stubSession{authenticated: true, authErr: errors.New("must not be called")}

	out := f.driver.UploadFromLinks(context.Background(), s, "run", []string{"https://files.example/a.txt"}, "3", nil)
	require.NoError(t, out.Err)
	require.Equal(t, []string{"chunk_1.zip"}, s.uploads)
}

func TestOutcomeStatus(t *testing.T) {
	result := []ojs.UploadResult{{FileName: "chunk_1.zip"}}
	failure := []error{errors.New("x")}

	cases := []struct {
		name     string
		outcome  Outcome
		expected Status
	}{
		{"fatal", Outcome{Err: ErrNoFilesFetched}, StatusFailed},
		{"nothing uploaded", Outcome{UploadErrors: failure}, StatusFailed},
		{"clean", Outcome{Results: result}, StatusSucceeded},
		{"fetch failures", Outcome{Results: result, FetchErrors: failure}, StatusPartiallySucceeded},
		{"upload failures", Outcome{Results: result, UploadErrors: failure}, StatusPartiallySucceeded},
		{"pack failures", Outcome{Results: result, PackErrors: failure}, StatusPartiallySucceeded},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.expected, testCase.outcome.Status())
		})
	}
}
