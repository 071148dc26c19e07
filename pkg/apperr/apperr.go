package apperr

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies every failure the request pipeline can surface.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCredentialMissing
	KindCredentialInvalid
	KindAccountInactive
	KindRoleForbidden
	KindOwnershipForbidden
	KindRateLimited
	KindDuplicateResource
	KindResourceNotFound
	KindTimeout
)

// Kinds lists every Kind value.
var Kinds = []Kind{
	KindInternal,
	KindValidation,
	KindCredentialMissing,
	KindCredentialInvalid,
	KindAccountInactive,
	KindRoleForbidden,
	KindOwnershipForbidden,
	KindRateLimited,
	KindDuplicateResource,
	KindResourceNotFound,
	KindTimeout,
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_FAILED"
	case KindCredentialMissing:
		return "CREDENTIAL_MISSING"
	case KindCredentialInvalid:
		return "CREDENTIAL_INVALID"
	case KindAccountInactive:
		return "ACCOUNT_INACTIVE"
	case KindRoleForbidden:
		return "ROLE_FORBIDDEN"
	case KindOwnershipForbidden:
		return "OWNERSHIP_FORBIDDEN"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindDuplicateResource:
		return "DUPLICATE_RESOURCE"
	case KindResourceNotFound:
		return "RESOURCE_NOT_FOUND"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// FieldError describes one violated validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error standardizes application errors.
type Error struct {
	Kind       Kind
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Err        error
	Stack      []byte
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validation(message string, fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func CredentialMissing(message string) *Error {
	return New(KindCredentialMissing, message)
}

// CredentialInvalid wraps a verification failure. The cause is kept for logs only.
func CredentialInvalid(message string, err error) *Error {
	return &Error{Kind: KindCredentialInvalid, Message: message, Err: err}
}

func AccountInactive(message string) *Error {
	return New(KindAccountInactive, message)
}

func RoleForbidden(message string) *Error {
	return New(KindRoleForbidden, message)
}

func OwnershipForbidden(message string) *Error {
	return New(KindOwnershipForbidden, message)
}

func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

func Duplicate(message string) *Error {
	return New(KindDuplicateResource, message)
}

func NotFound(message string) *Error {
	return New(KindResourceNotFound, message)
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timeout", Err: err}
}

// Internal wraps an unclassified failure and records the stack at the wrap site.
func Internal(err error) *Error {
	message := "internal server error"
	if err != nil {
		message = err.Error()
	}
	return &Error{Kind: KindInternal, Message: message, Err: err, Stack: debug.Stack()}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

const (
	pgUniqueViolation   = "23505"
	pgInvalidTextFormat = "22P02"
)

// From classifies any error into an *Error. Unknown errors become KindInternal
// with the original message preserved and the stack of the caller recorded,
// so call it where the foreign error enters application code.
func From(err error) *Error {
	return classify(err, true)
}

// Classify is From without stack capture, for code that only inspects or
// renders an error far from where it was produced.
func Classify(err error) *Error {
	return classify(err, false)
}

func classify(err error, withStack bool) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindResourceNotFound, Message: "Resource not found", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &Error{Kind: KindDuplicateResource, Message: "Duplicate field value entered", Err: err}
		case pgInvalidTextFormat:
			return &Error{Kind: KindResourceNotFound, Message: "Resource not found", Err: err}
		}
	}
	if uuid.IsInvalidLengthError(err) || errors.Is(err, errInvalidUUIDFormat) {
		return &Error{Kind: KindResourceNotFound, Message: "Resource not found", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	if errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenInvalidAudience) ||
		errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return CredentialInvalid("Invalid token", err)
	}
	if !withStack {
		return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	return Internal(err)
}

var errInvalidUUIDFormat = errors.New("invalid UUID format")

// InvalidID marks a malformed resource identifier.
func InvalidID(id string) *Error {
	return &Error{
		Kind:    KindResourceNotFound,
		Message: "Resource not found",
		Err:     fmt.Errorf("%w: %q", errInvalidUUIDFormat, id),
	}
}
