package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no live session has the supplied code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a target participant is not in the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuestionNotFound indicates a question id that is not in the collection.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")

	// ErrWrongPassword is returned for any credential mismatch on a role password.
	ErrWrongPassword = errors.New("incorrect password")
	// ErrNameTaken is the only answer a participant gets when the name exists with another secret.
	ErrNameTaken = errors.New("name already in use with a different password")

	// ErrNotAttached is returned when a connection sends a session event before joining it.
	ErrNotAttached = errors.New("connection is not attached to this session")
	// ErrForbidden is returned when the attached role may not perform the action.
	ErrForbidden = errors.New("action not allowed for this role")
	// ErrInvalidTransition is returned when a participant is not in a state the action accepts.
	ErrInvalidTransition = errors.New("participant state does not allow this action")
	// ErrSkipNotAllowed is returned when the skip sentinel is sent for a non-skippable question.
	ErrSkipNotAllowed = errors.New("question cannot be skipped")

	// ErrRateLimited is returned when an origin exceeded its attempt budget.
	ErrRateLimited = errors.New("too many attempts, try again later")

	// ErrMalformed marks payloads that are missing required fields or carry invalid values.
	ErrMalformed = errors.New("malformed request")
)

// Kind groups errors for acknowledgements and logging.
type Kind string

const (
	KindNone            Kind = ""
	KindAuthentication  Kind = "authentication"
	KindNotFound        Kind = "not_found"
	KindPolicyViolation Kind = "policy"
	KindRateLimited     Kind = "rate_limited"
	KindMalformed       Kind = "malformed"
	KindInternal        Kind = "internal"
)

// KindOf maps an error to its kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrWrongPassword), errors.Is(err, ErrNameTaken):
		return KindAuthentication
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrBankNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotAttached), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSkipNotAllowed):
		return KindPolicyViolation
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	default:
		return KindInternal
	}
}

// FieldError reports a single invalid or missing field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrMalformed }

// Invalid builds a FieldError.
func Invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}
