package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ojsbot.staging")

const (
	report_fetcher_fetch = "fetcher.fetch"
)

// FetchError is returned for a link that could not be staged, it never
// aborts the rest of a batch.
type FetchError struct {
	Url string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Url, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type FetcherOptions struct {
	// Timeout bounds each download, zero means 30 seconds.
	Timeout          time.Duration
	Tel              telemetry.API
	InstrumentOutput restyutil.InstrumentOutput
}

// Fetcher downloads remote files into staging storage without buffering them
// in memory.
type Fetcher struct {
	http *resty.Client
	tel  telemetry.API
}

const copyBufferSize = 32 * 1024

func NewFetcher(opts FetcherOptions) Fetcher {
	assert.NotNil(opts.Tel)
	tel := telemetry.NewScopedAPI("staging", opts.Tel)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	telemetry.InstrumentResty(client, tel)
	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	return Fetcher{http: client, tel: tel}
}

// Fetch streams the body behind url into destination. On failure the
// partially written file is removed and a *FetchError is returned.
func (f Fetcher) Fetch(ctx context.Context, url, destination string) (StagingFile, error) {
	ctx, span := tracer.Start(ctx, "fetcher:Fetch")
	defer span.End()

	fetchError := func(err error) (StagingFile, error) {
		span.RecordError(err)
		f.tel.ReportWarning(report_fetcher_fetch, err, url)
		return StagingFile{}, &FetchError{Url: url, Err: err}
	}

	res, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fetchError(err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() >= 400 {
		return fetchError(fmt.Errorf("unexpected status %d", res.StatusCode()))
	}

	out, err := os.Create(destination)
	if err != nil {
		return fetchError(err)
	}
	written, err := io.CopyBuffer(out, body, make([]byte, copyBufferSize))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination)
		return fetchError(err)
	}

	f.tel.ReportDebug("fetched file", url, destination, written)
	return StagingFile{
		LocalPath: destination,
		Size:      written,
		SourceUrl: url,
	}, nil
}
