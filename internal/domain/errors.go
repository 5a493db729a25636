package domain

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrNotOwner        = errors.New("requester does not own job")
	ErrVersionConflict = errors.New("version conflict")
	ErrBonusUsed       = errors.New("bonus already used")
	ErrInsufficient    = errors.New("insufficient point balance")
	ErrDuplicateKey    = errors.New("idempotency key already used")
	ErrNoExecutor      = errors.New("no executor for job type")
)

// RejectionCode classifies why a submission was refused.
type RejectionCode string

const (
	CodeQuotaExceeded  RejectionCode = "quota_exceeded"
	CodeOverloaded     RejectionCode = "overloaded"
	CodeInvalidPayload RejectionCode = "invalid_payload"
)

// Rejection is a synchronous refusal of a submission. It carries a
// human-readable message suitable for showing to the submitter.
type Rejection struct {
	Code    RejectionCode
	Message string
}

func (r *Rejection) Error() string { return string(r.Code) + ": " + r.Message }

// QuotaExceeded builds a business-rule rejection with upgrade guidance.
func QuotaExceeded(msg string) *Rejection {
	return &Rejection{Code: CodeQuotaExceeded, Message: msg}
}

// Overloaded builds a transient rejection; callers should retry later.
func Overloaded(msg string) *Rejection {
	return &Rejection{Code: CodeOverloaded, Message: msg}
}

// InvalidPayload builds a permanent caller-error rejection.
func InvalidPayload(msg string) *Rejection {
	return &Rejection{Code: CodeInvalidPayload, Message: msg}
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// TaskError is a classified failure from the external task boundary.
// Classification is explicit: the engine never infers it from error text.
type TaskError struct {
	Err       error
	Transient bool
}

func (e *TaskError) Error() string { return e.Err.Error() }
func (e *TaskError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable task failure.
func Transient(err error) error {
	return &TaskError{Err: err, Transient: true}
}

// Permanent wraps err as a non-retryable task failure.
func Permanent(err error) error {
	return &TaskError{Err: err, Transient: false}
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient so an executor bug cannot burn a job permanently.
func IsTransient(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Transient
	}
	return true
}
