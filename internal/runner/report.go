package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/scrapers/ojs"
)

const (
	reportPrefix          = "upload_report_"
	reportSuffix          = ".txt"
	reportTimestampLayout = "20060102_150405"
	reportDateLayout      = "2006-01-02 15:04:05"
)

var ErrInvalidReportName = errors.New("invalid report name")

// Reporter writes run reports into a directory, one file per run.
type Reporter struct {
	dir   string
	clock chrono.API
}

func NewReporter(dir string, clock chrono.API) (Reporter, error) {
	assert.NotEmptyStr(dir)
	assert.NotNil(clock)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return Reporter{}, err
	}
	return Reporter{dir: dir, clock: clock}, nil
}

func (r Reporter) Dir() string {
	return r.dir
}

type ReportInput struct {
	Host         string
	Username     string
	SubmissionId string
	Results      []ojs.UploadResult
}

var separator = strings.Repeat("=", 60)
var thinSeparator = strings.Repeat("-", 60)

func renderReport(in ReportInput, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nUPLOAD REPORT - OJS UPLOADER\n%s\n\n", separator, separator)
	fmt.Fprintf(&b, "Date: %s\n", now.Format(reportDateLayout))
	fmt.Fprintf(&b, "Journal: %s\n", in.Host)
	fmt.Fprintf(&b, "User: %s\n", in.Username)
	fmt.Fprintf(&b, "Submission ID: %s\n", in.SubmissionId)
	fmt.Fprintf(&b, "Total files uploaded: %d\n", len(in.Results))
	fmt.Fprintf(&b, "\n%s\n\n", separator)

	fmt.Fprintf(&b, "UPLOADED FILES:\n%s\n", thinSeparator)
	for i, result := range in.Results {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, result.FileName)
		fmt.Fprintf(&b, "   URL: %s\n", result.RemoteReference)
		fmt.Fprintf(&b, "   Time: %s\n", result.Timestamp.Format(reportDateLayout))
	}

	fmt.Fprintf(&b, "\n%s\nEND OF REPORT\n%s\n", separator, separator)
	return b.String()
}

// Write renders the report into a new file named after the current time and
// returns its path. Reports written within the same second get a numeric
// suffix instead of overwriting each other.
func (r Reporter) Write(in ReportInput) (string, error) {
	now := r.clock.Now()
	contents := []byte(renderReport(in, now))
	stem := reportPrefix + now.Format(reportTimestampLayout)

	for attempt := 1; attempt < 100; attempt++ {
		name := stem + reportSuffix
		if attempt > 1 {
			name = fmt.Sprintf("%s_%d%s", stem, attempt, reportSuffix)
		}
		path := filepath.Join(r.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrReportWriteFailed, err)
		}
		_, err = f.Write(contents)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			return "", fmt.Errorf("%w: %w", ErrReportWriteFailed, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: too many reports named %s", ErrReportWriteFailed, stem)
}

// Path resolves a report name to its path, names that are not plain report
// file names are rejected.
func (r Reporter) Path(name string) (string, error) {
	if name != filepath.Base(name) ||
		!strings.HasPrefix(name, reportPrefix) ||
		!strings.HasSuffix(name, reportSuffix) {
		return "", ErrInvalidReportName
	}
	return filepath.Join(r.dir, name), nil
}

type ReportInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// List returns the reports in the directory, newest first.
func (r Reporter) List() ([]ReportInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var out []ReportInfo
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), reportPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, ReportInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// Purge deletes reports last modified before the cutoff and returns how many
// were removed.
func (r Reporter) Purge(cutoff time.Time) (int, error) {
	reports, err := r.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, report := range reports {
		if !report.ModTime.Before(cutoff) {
			continue
		}
		err := os.Remove(filepath.Join(r.dir, report.Name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
