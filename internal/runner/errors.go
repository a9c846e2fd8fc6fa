package runner

import (
	"errors"
	"fmt"
)

var (
	ErrNoFilesFetched    = errors.New("no files were fetched")
	ErrNothingToUpload   = errors.New("fetched files are empty, nothing to upload")
	ErrReportWriteFailed = errors.New("report write failed")
	ErrNoLinks           = errors.New("no links given")
	ErrShuttingDown      = errors.New("runner is shutting down")
)

// UploadError is recorded for a unit that could not be uploaded, the run
// continues with the next unit.
type UploadError struct {
	Unit string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %s", e.Unit, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
