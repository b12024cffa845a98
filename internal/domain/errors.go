package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAttemptNotFound is returned when an attempt ID does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuizNotFound indicates the quiz document could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEventNotFound indicates an outbox event ID does not exist.
	ErrEventNotFound = errors.New("outbox event not found")
	// ErrVersionConflict is returned when a submission carries a stale
	// attemptVersion; the caller should refetch and retry.
	ErrVersionConflict = errors.New("attempt version conflict")
	// ErrStateConflict is returned when an operation is invalid for the
	// attempt's current state and the caller expected a state change.
	ErrStateConflict = errors.New("attempt state conflict")
	// ErrUnknownQuizType is returned when no grading strategy is registered
	// for a quiz's type tag.
	ErrUnknownQuizType = errors.New("unknown quiz type")
	// ErrDuplicateAttempt is returned by stores when inserting a second
	// in_progress attempt for the same (student, schedule) pair.
	ErrDuplicateAttempt = errors.New("in-progress attempt already exists")
)

// ValidationError rejects malformed input before any state is touched.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermanentDeliveryError marks a broker rejection that retrying cannot fix;
// the event is dead-lettered for operator attention.
type PermanentDeliveryError struct {
	Reason string
	Err    error
}

func (e *PermanentDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent delivery failure: %s", e.Reason)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// IsPermanentDelivery reports whether err marks an unretryable publish.
func IsPermanentDelivery(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}
