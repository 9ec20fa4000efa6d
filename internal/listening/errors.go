package listening

import (
	"errors"
	"fmt"

	"marginalia/internal/services"
)

// DomainError is a caller-facing failure with a stable code.
type DomainError struct {
	Code    string
	Message string
	Kind    string
}

func (e *DomainError) Error() string { return e.Message }

// ErrorKind classifies the error for transport mapping.
func (e *DomainError) ErrorKind() string { return e.Kind }

var (
	// ErrSessionAccessDenied covers both missing sessions and sessions owned by
	// someone else; callers cannot tell the two apart.
	ErrSessionAccessDenied = &DomainError{Code: "SessionAccessDenied", Message: "session not found or access denied", Kind: services.KindAuthorization}
	// ErrBookAccessDenied is the book-level equivalent used by StartSession.
	ErrBookAccessDenied     = &DomainError{Code: "BookAccessDenied", Message: "book not found or access denied", Kind: services.KindAuthorization}
	ErrRawNoteAccessDenied  = &DomainError{Code: "RawNoteAccessDenied", Message: "raw note not found or access denied", Kind: services.KindAuthorization}
	ErrOnlyOneActiveSession = &DomainError{Code: "OnlyOneActiveSession", Message: "an active listening session already exists for this book", Kind: services.KindConflict}
	ErrEmptyTranscript      = &DomainError{Code: "EmptyTranscript", Message: "transcript is empty", Kind: services.KindValidation}
	ErrInvalidTransition    = &DomainError{Code: "InvalidTransition", Message: "invalid session transition", Kind: services.KindConflict}
	ErrInvalidID            = &DomainError{Code: "InvalidId", Message: "malformed identifier", Kind: services.KindValidation}

	// ErrNotFoundOrDenied is the generic ownership failure; it matches every
	// access-denied error above.
	ErrNotFoundOrDenied = errors.New("not found or access denied")

	// ErrConcurrentUpdate is returned by repositories when a versioned write
	// loses a race. The service retries the operation.
	ErrConcurrentUpdate = errors.New("session was modified concurrently")
)

// Is lets every access-denied error match ErrNotFoundOrDenied.
func (e *DomainError) Is(target error) bool {
	if target == ErrNotFoundOrDenied {
		return e.Kind == services.KindAuthorization
	}
	return false
}

// TransitionError names the current and requested statuses of a refused move.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition from %s to %s", e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorKind classifies the error for transport mapping.
func (e *TransitionError) ErrorKind() string { return services.KindConflict }

// ErrorCode returns the stable code carried by a domain error, or "" when err
// is not one.
func ErrorCode(err error) string {
	var transition *TransitionError
	if errors.As(err, &transition) {
		return ErrInvalidTransition.Code
	}
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain.Code
	}
	return ""
}
