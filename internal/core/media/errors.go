package media

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is returned when fetching media fails for any reason.
	ErrFetchFailed = errors.New("failed to fetch media")

	// ErrFetchTimeout is returned when a media request exceeds the configured timeout.
	ErrFetchTimeout = errors.New("media request timed out")

	// ErrMediaTooLarge is returned when the media exceeds the hard size ceiling.
	ErrMediaTooLarge = errors.New("media exceeds size limit")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// StatusError is returned when the origin answers with an error status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: unexpected status code %d", ErrFetchFailed, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrFetchFailed
}
