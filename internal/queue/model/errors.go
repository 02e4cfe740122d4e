package model

import "errors"

// ErrorKind is the taxonomy from spec §7. It is not meant to be
// exhaustive-switched on by callers outside this module; most callers
// only care whether an error Is one of the sentinels below.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindStoreConflict    ErrorKind = "store_conflict"
	KindProcessorMissing ErrorKind = "processor_not_found"
	KindProcessorFailure ErrorKind = "processor_failure"
	KindWorkerLost       ErrorKind = "worker_lost"
	KindCancellation     ErrorKind = "cancellation"
)

// QueueError wraps an underlying cause with a Kind callers can branch on.
type QueueError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *QueueError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *QueueError) Unwrap() error { return e.Cause }

func NewValidationError(msg string) error {
	return &QueueError{Kind: KindValidation, Msg: msg}
}

func NewConflictError(msg string) error {
	return &QueueError{Kind: KindStoreConflict, Msg: msg}
}

func NewProcessorMissingError(jobType JobType) error {
	return &QueueError{Kind: KindProcessorMissing, Msg: "no processor registered for job type " + string(jobType)}
}

// ErrJobNotFound is returned by store lookups when an id is unknown.
var ErrJobNotFound = errors.New("model: job not found")

// ErrTrackerNotFound is returned when a tracker_id does not resolve.
var ErrTrackerNotFound = errors.New("model: process tracker not found")

// IsConflict reports whether err is (or wraps) a StoreConflict.
func IsConflict(err error) bool {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Kind == KindStoreConflict
	}
	return false
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Kind == KindValidation
	}
	return false
}
