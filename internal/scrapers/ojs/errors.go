package ojs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFormNotFound means the login page did not contain a recognizable
	// login form with username and password fields.
	ErrAuthFormNotFound = errors.New("login form not found")
	// ErrAuthRejected means the credentials were submitted but the site did not
	// redirect to a post-login page.
	ErrAuthRejected = errors.New("login rejected")
	// ErrNoSubmissionTarget means no submission id was given and none could be
	// discovered on the submissions listing.
	ErrNoSubmissionTarget = errors.New("no submission target")
	ErrNotAuthenticated   = errors.New("session is not authenticated")
	// ErrSessionExpired means a request made after login was redirected back
	// to the login page.
	ErrSessionExpired = errors.New("session expired, redirected to login")
)

// StatusError is returned when the site answers with a non-success status.
type StatusError struct {
	Url    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Url, e.Status)
}
