package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/notify"
	"ojsbot-backend/internal/scrapers/ojs"
	"ojsbot-backend/lib/restyutil"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	report_runner_session = "runner.session"
	report_runner_purge   = "runner.purge-reports"
)

const (
	defaultMaxConcurrentRuns = 4
	runLogLines              = 100
)

// JournalTarget is the site and credentials a run uploads with.
type JournalTarget struct {
	Host                string
	Username            string
	Password            string
	DefaultSubmissionId string
	Paths               ojs.Paths
}

// SessionFactory creates a new session for a target.
type SessionFactory func(target JournalTarget) (Session, error)

// NewOjsSessionFactory returns a factory of *ojs.Session.
func NewOjsSessionFactory(clock chrono.API, tel telemetry.API, limit rate.Limit, output restyutil.InstrumentOutput) SessionFactory {
	return func(target JournalTarget) (Session, error) {
		return ojs.NewSession(ojs.SessionOptions{
			Host:             target.Host,
			Username:         target.Username,
			Password:         target.Password,
			Paths:            target.Paths,
			RateLimit:        limit,
			Clock:            clock,
			Tel:              tel,
			InstrumentOutput: output,
		})
	}
}

type StartRequest struct {
	JournalId    string
	Target       JournalTarget
	Links        []string
	SubmissionId string
}

type Options struct {
	Driver   *Driver
	Sessions SessionFactory
	// Notifier receives start, finish and failure messages, nil means
	// notify.Noop.
	Notifier notify.Notifier
	// Registry keeps run snapshots, nil means NewRegistry(0, 0).
	Registry *Registry
	Metrics  *Metrics
	// MaxConcurrentRuns bounds runs executing at once, zero means 4.
	MaxConcurrentRuns int64
	Clock             chrono.API
	Tel               telemetry.API
}

// Runner accepts upload requests and executes each on its own goroutine.
// Every run gets a new session that is dropped when the run ends, runs on the
// same credential pair are serialized.
type Runner struct {
	ctx      context.Context
	driver   *Driver
	sessions SessionFactory
	notifier notify.Notifier
	registry *Registry
	leases   *Leases
	metrics  *Metrics
	sem      *semaphore.Weighted
	clock    chrono.API
	tel      telemetry.API

	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started time.Time
}

// NewRunner creates a runner, runs started on it are cancelled when ctx is
// done.
func NewRunner(ctx context.Context, opts Options) *Runner {
	assert.NotNil(opts.Driver)
	assert.NotNil(opts.Sessions)
	assert.NotNil(opts.Clock)
	assert.NotNil(opts.Tel)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(0, 0)
	}
	maxRuns := opts.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = defaultMaxConcurrentRuns
	}

	return &Runner{
		ctx:      ctx,
		driver:   opts.Driver,
		sessions: opts.Sessions,
		notifier: notifier,
		registry: registry,
		leases:   NewLeases(),
		metrics:  opts.Metrics,
		sem:      semaphore.NewWeighted(maxRuns),
		clock:    opts.Clock,
		tel:      telemetry.NewScopedAPI("runner", opts.Tel),
		started:  opts.Clock.Now(),
	}
}

func countLinks(links []string) int {
	n := 0
	for _, link := range links {
		if strings.TrimSpace(link) != "" {
			n++
		}
	}
	return n
}

// Start validates the request, registers a pending run and returns its id
// without waiting for the run.
func (r *Runner) Start(req StartRequest) (string, error) {
	if strings.TrimSpace(req.Target.Host) == "" || strings.TrimSpace(req.Target.Username) == "" {
		return "", fmt.Errorf("journal target needs a host and a username")
	}
	if countLinks(req.Links) == 0 {
		return "", ErrNoLinks
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	now := r.clock.Now()
	run := Run{
		Id:           uuid.NewString(),
		JournalId:    req.JournalId,
		Host:         req.Target.Host,
		Username:     req.Target.Username,
		SubmissionId: req.SubmissionId,
		Status:       StatusPending,
		Links:        countLinks(req.Links),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.registry.Put(run)
	r.tel.ReportDebug("run queued", run.Id, run.Host, run.Links)

	go func() {
		defer r.wg.Done()
		r.execute(run.Id, req)
	}()
	return run.Id, nil
}

func (r *Runner) finish(id string, status Status, reason string) {
	r.registry.Update(id, func(run *Run) {
		run.Status = status
		run.Stage = StageDone
		run.Error = reason
		run.UpdatedAt = r.clock.Now()
	})
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (r *Runner) execute(id string, req StartRequest) {
	ctx := r.ctx
	target := req.Target

	// the lease comes first so runs queued on one credential pair do not
	// hold slots other journals could use
	release, err := r.leases.Acquire(ctx, LeaseKey(target.Host, target.Username))
	if err != nil {
		r.finish(id, StatusFailed, ErrShuttingDown.Error())
		return
	}
	defer release()

	err = r.sem.Acquire(ctx, 1)
	if err != nil {
		r.finish(id, StatusFailed, ErrShuttingDown.Error())
		return
	}
	defer r.sem.Release(1)

	s, err := r.sessions(target)
	if err != nil {
		r.tel.ReportBroken(report_runner_session, err, target.Host)
		r.finish(id, StatusFailed, err.Error())
		r.notifier.Notify(ctx, fmt.Sprintf(
			"Upload run %s failed on %s: %v",
			shortId(id), target.Host, err,
		))
		return
	}

	submissionId := strings.TrimSpace(req.SubmissionId)
	if submissionId == "" {
		submissionId = strings.TrimSpace(target.DefaultSubmissionId)
	}

	startedAt := r.clock.Now()
	r.registry.Update(id, func(run *Run) {
		run.Status = StatusRunning
		run.UpdatedAt = startedAt
	})
	r.metrics.runStarted()
	r.notifier.Notify(ctx, fmt.Sprintf(
		"Upload run %s started on %s as %s (%d links)",
		shortId(id), target.Host, target.Username, countLinks(req.Links),
	))

	outcome := r.driver.UploadFromLinks(ctx, s, id, req.Links, submissionId, func(stage Stage, snapshot Outcome) {
		r.registry.Update(id, func(run *Run) {
			run.Stage = stage
			if snapshot.SubmissionId != "" {
				run.SubmissionId = snapshot.SubmissionId
			}
			run.Fetched = snapshot.Fetched
			run.Units = snapshot.Units
			run.Uploaded = len(snapshot.Results)
			run.UpdatedAt = r.clock.Now()
		})
	})

	status := outcome.Status()
	r.metrics.runFinished(status, r.clock.Now().Sub(startedAt))
	r.registry.Update(id, func(run *Run) {
		run.Status = status
		run.Stage = StageDone
		run.Error = outcome.Reason()
		run.Logs = s.Logs(runLogLines)
		if outcome.ReportPath != "" {
			run.Report = filepath.Base(outcome.ReportPath)
		}
		run.UpdatedAt = r.clock.Now()
	})

	if status == StatusFailed {
		r.notifier.Notify(ctx, fmt.Sprintf(
			"Upload run %s failed on %s: %s",
			shortId(id), target.Host, outcome.Reason(),
		))
		return
	}
	r.notifier.Notify(ctx, fmt.Sprintf(
		"Upload run %s finished on %s: %d/%d units uploaded to submission %s",
		shortId(id), target.Host, len(outcome.Results), outcome.Units, outcome.SubmissionId,
	))
}

func (r *Runner) Get(id string) (Run, bool) {
	return r.registry.Get(id)
}

func (r *Runner) List() []Run {
	return r.registry.List()
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting runs and waits for the running ones.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

type Stats struct {
	Uptime             time.Duration
	Pending            int
	Running            int
	Succeeded          int
	PartiallySucceeded int
	Failed             int
	UnitsUploaded      int
}

// Stats summarizes the runs still held by the registry.
func (r *Runner) Stats() Stats {
	stats := Stats{Uptime: r.clock.Now().Sub(r.started)}
	for _, run := range r.registry.List() {
		stats.UnitsUploaded += run.Uploaded
		switch run.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusPartiallySucceeded:
			stats.PartiallySucceeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"uptime %s\nruns: %d pending, %d running, %d succeeded, %d partial, %d failed\nunits uploaded: %d",
		s.Uptime.Truncate(time.Second),
		s.Pending, s.Running, s.Succeeded, s.PartiallySucceeded, s.Failed,
		s.UnitsUploaded,
	)
}

// ScheduleReportRetention deletes reports older than retention on the given
// cron schedule. A retention of zero disables the job.
func ScheduleReportRetention(cron chrono.CronAPI, spec string, reporter Reporter, clock chrono.API, retention time.Duration, tel telemetry.API) error {
	if retention <= 0 {
		return nil
	}
	return cron.Cron(spec, func() {
		removed, err := PurgeReports(reporter, clock, retention)
		if err != nil {
			tel.ReportWarning(report_runner_purge, err)
		}
		if removed > 0 {
			tel.ReportDebug("purged reports", removed)
		}
	})
}

// PurgeReports deletes reports last modified more than retention ago.
func PurgeReports(reporter Reporter, clock chrono.API, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	return reporter.Purge(clock.Now().Add(-retention))
}
