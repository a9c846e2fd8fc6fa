package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/notify"
	"ojsbot-backend/internal/scrapers/ojs/ojstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

func newTestRunner(t *testing.T, f fixture, sessions SessionFactory) (*Runner, *notify.Recorder, *Metrics) {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	f.driver.metrics = metrics

	recorder := &notify.Recorder{}
	r := NewRunner(context.Background(), Options{
		Driver:   f.driver,
		Sessions: sessions,
		Notifier: recorder,
		Metrics:  metrics,
		Clock:    f.clock,
		Tel:      f.tel,
	})
	t.Cleanup(r.Close)
	return r, recorder, metrics
}

func TestRunnerStart(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{SubmissionIds: []string{"31"}})
	defer site.Close()
	files := newFileServer(t, 512)

	f := newFixture(t, nil, 0)
	sessions := NewOjsSessionFactory(f.clock, telemetry.NewRecordingAPI(), rate.Inf, nil)
	r, recorder, metrics := newTestRunner(t, f, sessions)

	target := JournalTarget{Host: site.URL, Username: ojstest.Username, Password: ojstest.Password}
	id, err := r.Start(StartRequest{
		JournalId: "abcd1234",
		Target:    target,
		Links:     []string{files.URL + "/ok/a.pdf", files.URL + "/nope.pdf"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r.Wait()

	run, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusPartiallySucceeded, run.Status)
	require.Equal(t, StageDone, run.Stage)
	require.Equal(t, "abcd1234", run.JournalId)
	require.Equal(t, "31", run.SubmissionId)
	require.Equal(t, 2, run.Links)
	require.Equal(t, 1, run.Fetched)
	require.Equal(t, 1, run.Units)
	require.Equal(t, 1, run.Uploaded)
	require.True(t, strings.HasPrefix(run.Report, "upload_report_"))
	require.NotEmpty(t, run.Logs)

	messages := recorder.Messages()
	require.Len(t, messages, 2)
	require.Contains(t, messages[0], "started")
	require.Contains(t, messages[1], "1/1 units uploaded")

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(string(StatusPartiallySucceeded))))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.unitsUploaded))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.fetchFailures))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.runsActive))

	// every run logs in with its own session
	_, err = r.Start(StartRequest{Target: target, Links: []string{files.URL + "/ok/b.pdf"}, SubmissionId: "32"})
	require.NoError(t, err)
	r.Wait()
	require.Equal(t, 2, site.LoginPosts())
	require.Len(t, r.List(), 2)

	stats := r.Stats()
	require.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 1, stats.PartiallySucceeded)
	require.Equal(t, 2, stats.UnitsUploaded)
	require.Contains(t, stats.String(), "1 succeeded")
}

func TestRunnerFailureNotification(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	sessions := func(JournalTarget) (Session, error) {
		return &stubSession{resolveErr: errors.New("listing unavailable")}, nil
	}
	r, recorder, metrics := newTestRunner(t, f, sessions)

	id, err := r.Start(StartRequest{
		Target: JournalTarget{Host: "https://journal.example", Username: "editor"},
		Links:  []string{"https://files.example/a.pdf"},
	})
	require.NoError(t, err)
	r.Wait()

	run, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusFailed, run.Status)
	require.Contains(t, run.Error, "listing unavailable")
	require.Empty(t, run.Report)

	messages := recorder.Messages()
	require.Len(t, messages, 2)
	require.Contains(t, messages[1], "failed")
	require.Contains(t, messages[1], "listing unavailable")
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(string(StatusFailed))))
}

func TestRunnerDefaultSubmission(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	session := &stubSession{resolveErr: errors.New("must not resolve")}
	r, _, _ := newTestRunner(t, f, func(JournalTarget) (Session, error) { return session, nil })

	id, err := r.Start(StartRequest{
		Target: JournalTarget{Host: "https://journal.example", Username: "editor", DefaultSubmissionId: "900"},
		Links:  []string{"https://files.example/a.pdf"},
	})
	require.NoError(t, err)
	r.Wait()

	run, _ := r.Get(id)
	require.Equal(t, StatusSucceeded, run.Status)
	require.Equal(t, "900", run.SubmissionId)
}

func TestRunnerSessionFactoryError(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	r, recorder, _ := newTestRunner(t, f, func(JournalTarget) (Session, error) {
		return nil, errors.New("bad host")
	})

	id, err := r.Start(StartRequest{
		Target: JournalTarget{Host: "::", Username: "editor"},
		Links:  []string{"https://files.example/a.pdf"},
	})
	require.NoError(t, err)
	r.Wait()

	run, _ := r.Get(id)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, "bad host", run.Error)
	require.Len(t, recorder.Messages(), 1)
}

func TestRunnerStartValidation(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	r, _, _ := newTestRunner(t, f, func(JournalTarget) (Session, error) { return &stubSession{}, nil })
	target := JournalTarget{Host: "https://journal.example", Username: "editor"}

	_, err := r.Start(StartRequest{Target: target, Links: []string{"", "  "}})
	require.ErrorIs(t, err, ErrNoLinks)

	_, err = r.Start(StartRequest{Target: JournalTarget{Host: "https://journal.example"}, Links: []string{"https://a/b"}})
	require.Error(t, err)

	r.Close()
	_, err = r.Start(StartRequest{Target: target, Links: []string{"https://a/b"}})
	require.ErrorIs(t, err, ErrShuttingDown)
}

// blockingSession holds the first upload until released so runs on the same
// credentials can be observed queueing.
type blockingSession struct {
	stubSession
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSession) ResolveSubmission(ctx context.Context) (string, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.stubSession.ResolveSubmission(ctx)
}

func TestRunnerSerializesCredentialPair(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	session := &blockingSession{entered: make(chan struct{}), release: make(chan struct{})}
	r, _, _ := newTestRunner(t, f, func(JournalTarget) (Session, error) { return session, nil })
	target := JournalTarget{Host: "https://journal.example", Username: "editor"}

	first, err := r.Start(StartRequest{Target: target, Links: []string{"https://files.example/a.pdf"}})
	require.NoError(t, err)
	<-session.entered

	second, err := r.Start(StartRequest{Target: target, Links: []string{"https://files.example/b.pdf"}})
	require.NoError(t, err)

	time.Sleep(time.Millisecond * 50)
	run, _ := r.Get(second)
	require.Equal(t, StatusPending, run.Status)

	close(session.release)
	r.Wait()

	for _, id := range []string{first, second} {
		run, _ := r.Get(id)
		require.Equal(t, StatusSucceeded, run.Status)
	}
}

func countContaining(lines []string, substr string) int {
	n := 0
	for _, line := range lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestRunnerSessionPerRun(t *testing.T) {
	site := ojstest.NewSite(ojstest.Options{})
	defer site.Close()
	files := newFileServer(t, 64)

	f := newFixture(t, nil, 0)
	var mu sync.Mutex
	created := 0
	factory := NewOjsSessionFactory(f.clock, telemetry.NewRecordingAPI(), rate.Inf, nil)
	r, _, _ := newTestRunner(t, f, func(target JournalTarget) (Session, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return factory(target)
	})
	target := JournalTarget{Host: site.URL, Username: ojstest.Username, Password: ojstest.Password}

	first, err := r.Start(StartRequest{Target: target, Links: []string{files.URL + "/ok/a.pdf"}, SubmissionId: "31"})
	require.NoError(t, err)
	r.Wait()

	// cookies handed to the first run are no longer valid
	site.ExpireSessions()

	second, err := r.Start(StartRequest{Target: target, Links: []string{files.URL + "/ok/b.pdf"}, SubmissionId: "32"})
	require.NoError(t, err)
	r.Wait()

	require.Equal(t, 2, created)
	require.Equal(t, 2, site.LoginPosts())
	require.Len(t, site.Uploads(), 2)

	for _, id := range []string{first, second} {
		run, _ := r.Get(id)
		require.Equal(t, StatusSucceeded, run.Status)
		require.Equal(t, 1, run.Uploaded)
		require.Equal(t, 1, countContaining(run.Logs, "login succeeded"))
	}

	run, _ := r.Get(second)
	require.Zero(t, countContaining(run.Logs, "submission 31"))
	require.NotZero(t, countContaining(run.Logs, "submission 32"))
}

func TestRunnerQueuedPairDoesNotHoldSlot(t *testing.T) {
	f := newFixture(t, stubFetcher{size: 8}, 0)
	busy := &blockingSession{entered: make(chan struct{}), release: make(chan struct{})}
	r, _, _ := newTestRunner(t, f, func(target JournalTarget) (Session, error) {
		if target.Username == "editor" {
			return busy, nil
		}
		return &stubSession{}, nil
	})
	r.sem = semaphore.NewWeighted(2)
	busyTarget := JournalTarget{Host: "https://journal.example", Username: "editor"}

	_, err := r.Start(StartRequest{Target: busyTarget, Links: []string{"https://files.example/a.pdf"}})
	require.NoError(t, err)
	<-busy.entered

	queued, err := r.Start(StartRequest{Target: busyTarget, Links: []string{"https://files.example/b.pdf"}})
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 50)

	other, err := r.Start(StartRequest{
		Target: JournalTarget{Host: "https://other.example", Username: "reviewer"},
		Links:  []string{"https://files.example/c.pdf"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, _ := r.Get(other)
		return run.Status == StatusSucceeded
	}, time.Second*5, time.Millisecond*10)

	run, _ := r.Get(queued)
	require.Equal(t, StatusPending, run.Status)

	close(busy.release)
	r.Wait()
}

func TestMetricsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.unitUploaded()
	require.Equal(t, 1.0, testutil.ToFloat64(second.unitsUploaded))

	var nilMetrics *Metrics
	nilMetrics.runStarted()
	nilMetrics.runFinished(StatusFailed, time.Second)
}
