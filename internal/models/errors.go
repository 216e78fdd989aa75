package models

import "errors"

// Ingestion error taxonomy. Authentication and payload errors are
// terminal for the request; buffer unavailability is recovered by the
// degraded write path; persistence errors are retried internally
// because the provider already got its 200.
var (
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrMalformedPayload   = errors.New("malformed webhook payload")
	ErrBufferUnavailable  = errors.New("event buffer unavailable")
	ErrPersistenceFailure = errors.New("persistent store write failed")
)
