package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a row does not exist within the
	// requested organization scope.
	ErrNotFound = errors.New("not found")

	// ErrStatusTransitionDenied is returned when a status update would move a
	// job out of a terminal state (completed/failed/cancelled).
	ErrStatusTransitionDenied = errors.New("status transition denied: job already in terminal state")

	// ErrDuplicateCorrelationID is returned when a job with the same
	// correlation id already exists.
	ErrDuplicateCorrelationID = errors.New("correlation id already exists")
)
