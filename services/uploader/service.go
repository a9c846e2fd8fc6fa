// Package uploader is the api in front of the runner and the journal store.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/runner"
	"ojsbot-backend/services/journals"

	"connectrpc.com/connect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("ojsbot.services.uploader")

const (
	report_service_start_upload = "service.start-upload"
	report_service_journals     = "service.journals"
)

type Service struct {
	runner   *runner.Runner
	journals journals.Store
	reporter runner.Reporter
	tel      telemetry.API
}

func NewService(r *runner.Runner, store journals.Store, reporter runner.Reporter, tel telemetry.API) Service {
	assert.NotNil(r)
	assert.NotNil(tel)
	assert.NotEmptyStr(reporter.Dir())
	return Service{
		runner:   r,
		journals: store,
		reporter: reporter,
		tel:      telemetry.NewScopedAPI("uploader", tel),
	}
}

// connectError maps domain errors to connect codes, anything unknown is
// reported and returned as internal.
func (s Service) connectError(id string, err error) error {
	switch {
	case errors.Is(err, journals.ErrJournalNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, journals.ErrInvalidJournal), errors.Is(err, runner.ErrNoLinks):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, journals.ErrDuplicateJournal):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, runner.ErrShuttingDown):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	s.tel.ReportBroken(id, err)
	return connect.NewError(connect.CodeInternal, err)
}

func (s Service) resolveTarget(ctx context.Context, req *StartUploadRequest) (runner.JournalTarget, error) {
	if req.JournalId != "" {
		journal, err := s.journals.Get(ctx, req.JournalId)
		if err != nil {
			return runner.JournalTarget{}, err
		}
		return journal.Target(), nil
	}
	if req.Target == nil {
		return runner.JournalTarget{}, fmt.Errorf("%w: either journal_id or target is required", journals.ErrInvalidJournal)
	}
	host, err := journals.NormalizeHost(req.Target.Host)
	if err != nil {
		return runner.JournalTarget{}, err
	}
	if strings.TrimSpace(req.Target.Username) == "" || req.Target.Password == "" {
		return runner.JournalTarget{}, fmt.Errorf("%w: username and password are required", journals.ErrInvalidJournal)
	}
	return runner.JournalTarget{
		Host:                host,
		Username:            strings.TrimSpace(req.Target.Username),
		Password:            req.Target.Password,
		DefaultSubmissionId: req.Target.DefaultSubmissionId,
	}, nil
}

func (s Service) StartUpload(ctx context.Context, req *connect.Request[StartUploadRequest]) (*connect.Response[StartUploadResponse], error) {
	ctx, span := tracer.Start(ctx, "StartUpload")
	defer span.End()

	target, err := s.resolveTarget(ctx, req.Msg)
	if err != nil {
		return nil, s.connectError(report_service_start_upload, err)
	}
	span.SetAttributes(
		attribute.String("host", target.Host),
		attribute.Int("links", len(req.Msg.Links)),
	)

	id, err := s.runner.Start(runner.StartRequest{
		JournalId:    req.Msg.JournalId,
		Target:       target,
		Links:        req.Msg.Links,
		SubmissionId: req.Msg.SubmissionId,
	})
	if err != nil {
		return nil, s.connectError(report_service_start_upload, err)
	}

	return connect.NewResponse(&StartUploadResponse{
		RunId:   id,
		Message: "run started",
	}), nil
}

func (s Service) GetRun(ctx context.Context, req *connect.Request[GetRunRequest]) (*connect.Response[GetRunResponse], error) {
	run, ok := s.runner.Get(req.Msg.Id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %q not found", req.Msg.Id))
	}
	return connect.NewResponse(&GetRunResponse{Run: run}), nil
}

func (s Service) ListRuns(ctx context.Context, req *connect.Request[ListRunsRequest]) (*connect.Response[ListRunsResponse], error) {
	runs := s.runner.List()
	for i := range runs {
		runs[i].Logs = nil
	}
	return connect.NewResponse(&ListRunsResponse{Runs: runs}), nil
}

func (s Service) AddJournal(ctx context.Context, req *connect.Request[AddJournalRequest]) (*connect.Response[AddJournalResponse], error) {
	journal, err := s.journals.Add(ctx, req.Msg.Journal.store())
	if err != nil {
		return nil, s.connectError(report_service_journals, err)
	}
	return connect.NewResponse(&AddJournalResponse{Journal: journalMessage(journal)}), nil
}

func (s Service) UpdateJournal(ctx context.Context, req *connect.Request[UpdateJournalRequest]) (*connect.Response[UpdateJournalResponse], error) {
	journal, err := s.journals.Update(ctx, req.Msg.Id, req.Msg.Journal.store())
	if err != nil {
		return nil, s.connectError(report_service_journals, err)
	}
	return connect.NewResponse(&UpdateJournalResponse{Journal: journalMessage(journal)}), nil
}

func (s Service) DeleteJournal(ctx context.Context, req *connect.Request[DeleteJournalRequest]) (*connect.Response[DeleteJournalResponse], error) {
	err := s.journals.Delete(ctx, req.Msg.Id)
	if err != nil {
		return nil, s.connectError(report_service_journals, err)
	}
	return connect.NewResponse(&DeleteJournalResponse{}), nil
}

func (s Service) ListJournals(ctx context.Context, req *connect.Request[ListJournalsRequest]) (*connect.Response[ListJournalsResponse], error) {
	list, err := s.journals.List(ctx)
	if err != nil {
		return nil, s.connectError(report_service_journals, err)
	}
	out := make([]Journal, len(list))
	for i, journal := range list {
		out[i] = journalMessage(journal)
	}
	return connect.NewResponse(&ListJournalsResponse{Journals: out}), nil
}

// Status summarizes runs, journals and reports.
func (s Service) Status(ctx context.Context) Status {
	stats := s.runner.Stats()
	status := Status{
		Status:             "ok",
		Uptime:             stats.Uptime.String(),
		Pending:            stats.Pending,
		Running:            stats.Running,
		Succeeded:          stats.Succeeded,
		PartiallySucceeded: stats.PartiallySucceeded,
		Failed:             stats.Failed,
		UnitsUploaded:      stats.UnitsUploaded,
	}
	list, err := s.journals.List(ctx)
	if err != nil {
		s.tel.ReportWarning(report_service_journals, err)
		status.Status = "degraded"
	}
	status.Journals = len(list)
	reports, err := s.reporter.List()
	if err != nil {
		s.tel.ReportWarning(report_service_journals, err)
		status.Status = "degraded"
	}
	status.Reports = len(reports)
	return status
}

// StatusText is the status as shown to chat bot users.
func (s Service) StatusText() string {
	st := s.Status(context.Background())
	return fmt.Sprintf(
		"📊 <b>Status</b>: %s\nuptime %s\njournals: %d\nruns: %d pending, %d running, %d succeeded, %d partial, %d failed\nunits uploaded: %d\nreports: %d",
		st.Status, st.Uptime, st.Journals,
		st.Pending, st.Running, st.Succeeded, st.PartiallySucceeded, st.Failed,
		st.UnitsUploaded, st.Reports,
	)
}
