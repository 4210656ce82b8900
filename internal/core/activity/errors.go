package activity

import "errors"

var (
	// ErrFetchFailed indicates the remote server could not be reached or the
	// response could not be read.
	ErrFetchFailed = errors.New("failed to fetch URL")

	// ErrFetchTimeout indicates the fetch exceeded its timeout or the caller
	// cancelled it.
	ErrFetchTimeout = errors.New("fetch timed out")

	// ErrBodyTooLarge indicates the response body exceeded the configured limit.
	ErrBodyTooLarge = errors.New("response body too large")
)
