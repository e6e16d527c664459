package submission

import (
	"errors"
	"fmt"
)

// Kind is the stable category of a failed submission.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindPersistenceConflict Kind = "PERSISTENCE_CONFLICT"
	KindInternal            Kind = "INTERNAL"
)

// Error is a categorized submission failure. Message is safe to show to
// callers; the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the category of err, INTERNAL for uncategorized errors and
// the empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func storeUnavailable(message string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: message, Err: err}
}
