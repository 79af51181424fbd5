// Package errors contains domain errors that different layers can use to add
// meaning to an error and that the HTTP handler can transform to a status
// code. This is implemented as a separate package in order to avoid cycle
// import errors.
package errors

import "errors"

// The following errors serve as domain errors that can be used by the
// different layers. The handler in the entrypoint will intercept these and
// convert them to the relevant HTTP codes.
var (
	// ErrInvalidArgument is used when the provided argument is incorrect
	// (e.g. format, reserved).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is used when a resource doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedFormat is used when an uploaded presentation has an
	// extension the extractor can't handle.
	ErrUnsupportedFormat = errors.New("unsupported presentation format")
	// ErrExceedMaxFileSize is used when an upload is over the configured
	// size limit.
	ErrExceedMaxFileSize = errors.New("file size exceeded")
	// ErrNoJob is returned by the job queue when a bounded pop times out
	// with an empty queue. It is not a failure condition.
	ErrNoJob = errors.New("no job available")
	// ErrQueueUnavailable is used when the queue backend can't be reached.
	// The submission gateway recovers from it with in-process execution.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)
