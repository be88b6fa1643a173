package domain

import "errors"

// Error categories shared by the pipeline. Concrete errors wrap one of these
// so callers can branch with errors.Is.
var (
	// ErrValidation marks a malformed or unsupported input, rejected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrFetch marks a transport or proxy failure.
	ErrFetch = errors.New("fetch failed")
	// ErrExtraction marks a document missing the required title or price.
	ErrExtraction = errors.New("extraction failed")
	// ErrPersistence marks a store read or write failure.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotificationDelivery marks a mail hand-off failure.
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// ErrNotFound is returned by store lookups that match nothing.
	ErrNotFound = errors.New("not found")
)
