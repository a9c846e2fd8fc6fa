package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/internal/scrapers/ojs"
	"ojsbot-backend/internal/staging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ojsbot.runner")

const (
	report_driver_authenticate = "driver.authenticate"
	report_driver_resolve      = "driver.resolve-submission"
	report_driver_pack         = "driver.pack"
	report_driver_upload       = "driver.upload"
	report_driver_report       = "driver.report"
	report_driver_cleanup      = "driver.cleanup"
)

// DefaultUnitCeiling is the largest raw size of an archived unit.
const DefaultUnitCeiling int64 = 10 * 1024 * 1024

// Session is the part of *ojs.Session the driver depends on.
type Session interface {
	Host() string
	Username() string
	Authenticated() bool
	Authenticate(ctx context.Context) error
	ResolveSubmission(ctx context.Context) (string, error)
	UploadUnit(ctx context.Context, submissionId, path, fileName string) (ojs.UploadResult, error)
	Log(format string, args ...any)
	Logs(n int) []string
}

type Fetcher interface {
	Fetch(ctx context.Context, url, destination string) (staging.StagingFile, error)
}

type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageResolve      Stage = "resolve"
	StageFetch        Stage = "fetch"
	StagePack         Stage = "pack"
	StageUpload       Stage = "upload"
	StageDone         Stage = "done"
)

// Outcome is everything a run produced. Err is set only for the failure that
// stopped the run, per item failures are collected separately.
type Outcome struct {
	SubmissionId string
	Links        int
	Fetched      int
	FetchErrors  []error
	Units        int
	// PackErrors are groups of fetched files that could not be archived.
	PackErrors   []error
	Results      []ojs.UploadResult
	UploadErrors []error
	ReportPath   string
	ReportErr    error
	CleanupErr   error
	Err          error
}

// Ok reports if at least one unit was uploaded.
func (o Outcome) Ok() bool {
	return len(o.Results) > 0
}

func (o Outcome) Status() Status {
	switch {
	case o.Err != nil || !o.Ok():
		return StatusFailed
	case len(o.FetchErrors) == 0 && len(o.PackErrors) == 0 && len(o.UploadErrors) == 0:
		return StatusSucceeded
	default:
		return StatusPartiallySucceeded
	}
}

// Reason is a short description of why a run failed, it is empty when the
// run uploaded something.
func (o Outcome) Reason() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if !o.Ok() && len(o.UploadErrors) > 0 {
		return fmt.Sprintf("no unit could be uploaded (%d failed)", len(o.UploadErrors))
	}
	if !o.Ok() {
		return "nothing was uploaded"
	}
	return ""
}

// Progress is called on every stage change and after every fetched link and
// uploaded unit with a copy of the outcome so far.
type Progress func(stage Stage, snapshot Outcome)

type DriverOptions struct {
	Area     staging.Area
	Fetcher  Fetcher
	Reporter Reporter
	// Packer plans the units, nil means staging.GreedyPacker.
	Packer staging.Packer
	// Ceiling is the largest raw size of an archived unit, zero means
	// DefaultUnitCeiling.
	Ceiling int64
	Metrics *Metrics
	Tel     telemetry.API
}

// Driver runs one batch of links through authenticate, resolve, fetch, pack
// and upload, always finishing with the report and cleanup.
type Driver struct {
	area     staging.Area
	fetcher  Fetcher
	reporter Reporter
	packer   staging.Packer
	ceiling  int64
	metrics  *Metrics
	tel      telemetry.API
}

func NewDriver(opts DriverOptions) *Driver {
	assert.NotNil(opts.Fetcher)
	assert.NotNil(opts.Tel)
	assert.NotEmptyStr(opts.Area.Root())
	assert.NotEmptyStr(opts.Reporter.Dir())

	packer := opts.Packer
	if packer == nil {
		packer = staging.GreedyPacker
	}
	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultUnitCeiling
	}
	return &Driver{
		area:     opts.Area,
		fetcher:  opts.Fetcher,
		reporter: opts.Reporter,
		packer:   packer,
		ceiling:  ceiling,
		metrics:  opts.Metrics,
		tel:      telemetry.NewScopedAPI("runner", opts.Tel),
	}
}

// UploadFromLinks fetches every link, packages the files and uploads them to
// the submission. An empty submissionId means the first submission on the
// listing page. Staging storage for runId is released on every path and a
// report is written whenever a submission was resolved.
func (d *Driver) UploadFromLinks(
	ctx context.Context,
	s Session,
	runId string,
	links []string,
	submissionId string,
	progress Progress,
) (out Outcome) {
	ctx, span := tracer.Start(ctx, "driver:UploadFromLinks")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runId),
		attribute.Int("links", len(links)),
	)

	if progress == nil {
		progress = func(Stage, Outcome) {}
	}
	stage := func(st Stage) {
		progress(st, out)
	}
	fail := func(err error) Outcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Log("run stopped: %v", err)
		out.Err = err
		return out
	}

	defer func() {
		err := d.area.Cleanup(runId)
		if err != nil {
			d.tel.ReportWarning(report_driver_cleanup, err)
			s.Log("cleanup failed: %v", err)
			out.CleanupErr = err
		}
		progress(StageDone, out)
	}()

	for _, link := range links {
		if strings.TrimSpace(link) != "" {
			out.Links++
		}
	}

	if !s.Authenticated() {
		stage(StageAuthenticate)
		err := s.Authenticate(ctx)
		if err != nil {
			if !errors.Is(err, ojs.ErrAuthRejected) {
				d.tel.ReportBroken(report_driver_authenticate, err)
			}
			return fail(err)
		}
	}

	stage(StageResolve)
	target := strings.TrimSpace(submissionId)
	if target == "" {
		resolved, err := s.ResolveSubmission(ctx)
		if err != nil {
			d.tel.ReportWarning(report_driver_resolve, err)
			return fail(err)
		}
		target = resolved
	}
	out.SubmissionId = target
	span.SetAttributes(attribute.String("submission_id", target))

	defer func() {
		path, err := d.reporter.Write(ReportInput{
			Host:         s.Host(),
			Username:     s.Username(),
			SubmissionId: target,
			Results:      out.Results,
		})
		if err != nil {
			d.tel.ReportBroken(report_driver_report, err)
			s.Log("could not write report: %v", err)
			out.ReportErr = err
			return
		}
		s.Log("report written to %s", path)
		out.ReportPath = path
	}()

	stage(StageFetch)
	dir, err := d.area.RunDir(runId)
	if err != nil {
		return fail(fmt.Errorf("staging directory: %w", err))
	}

	var files []staging.StagingFile
	for i, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		s.Log("downloading %d/%d: %s", i+1, len(links), link)
		file, err := d.fetcher.Fetch(ctx, link, filepath.Join(dir, staging.FileName(i+1, link)))
		if err != nil {
			s.Log("could not download %s: %v", link, err)
			d.metrics.fetchFailed()
			out.FetchErrors = append(out.FetchErrors, err)
			progress(StageFetch, out)
			continue
		}
		files = append(files, file)
		out.Fetched++
		progress(StageFetch, out)
	}
	if len(files) == 0 {
		return fail(ErrNoFilesFetched)
	}
	s.Log("downloaded %d of %d files", len(files), out.Links)

	stage(StagePack)
	units, err := staging.Pack(files, d.ceiling, dir, d.packer)
	for _, packErr := range staging.PackErrors(err) {
		d.tel.ReportBroken(report_driver_pack, packErr)
		s.Log("packaging failed: %v", packErr)
		out.PackErrors = append(out.PackErrors, packErr)
	}
	if len(units) == 0 {
		if err != nil {
			return fail(fmt.Errorf("package files: %w", err))
		}
		return fail(ErrNothingToUpload)
	}
	out.Units = len(units)
	s.Log("packaged %d files into %d units", len(files), len(units))

	stage(StageUpload)
	for i, unit := range units {
		s.Log("uploading unit %d/%d: %s", i+1, len(units), unit.Name)
		result, err := s.UploadUnit(ctx, target, unit.Path, unit.Name)
		if err != nil {
			d.tel.ReportWarning(report_driver_upload, err, unit.Name)
			out.UploadErrors = append(out.UploadErrors, &UploadError{Unit: unit.Name, Err: err})
			progress(StageUpload, out)
			continue
		}
		d.metrics.unitUploaded()
		out.Results = append(out.Results, result)
		progress(StageUpload, out)
	}
	s.Log("uploaded %d of %d units", len(out.Results), len(units))

	if !out.Ok() {
		span.SetStatus(codes.Error, "nothing uploaded")
	}
	return out
}
