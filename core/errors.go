package core

import (
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ShimErrorBadInput             = "SHIM_BAD_INPUT"
	ShimErrorNotFound             = "SHIM_NOT_FOUND"
	ShimErrorUnauthenticated      = "SHIM_UNAUTHENTICATED"
	ShimErrorPermissionDenied     = "SHIM_PERMISSION_DENIED"
	ShimErrorProviderFailure      = "SHIM_PROVIDER_FAILURE"
	ShimErrorUnsupportedOperation = "SHIM_UNSUPPORTED_OPERATION"
	ShimErrorConflict             = "SHIM_CONFLICT"
	ShimErrorRateLimited          = "SHIM_RATE_LIMITED"
	ShimErrorInternal             = "SHIM_INTERNAL_ERROR"
)

var (
	ErrUnsupportedOperation      = errors.New("core: unsupported operation")
	ErrAuthorizationInfoNotFound = errors.New("core: authorization info not found")
	ErrDuplicateCorrelationID    = errors.New("core: duplicate correlation id")
	ErrShimNotFound              = errors.New("core: shim not registered")
	ErrSchemaNotFound            = errors.New("core: schema not found")
	ErrProviderResponse          = errors.New("core: provider response invalid")
)

// NewValidationError reports a missing or malformed input detected before any I/O.
func NewValidationError(message string, field string) *goerrors.Error {
	err := goerrors.NewValidation(message, goerrors.FieldError{
		Field:   field,
		Message: message,
	})
	return err.WithCode(http.StatusBadRequest).WithTextCode(ShimErrorBadInput)
}

// NewInternalError reports a wiring or invariant failure inside the process.
func NewInternalError(message string) *goerrors.Error {
	return newShimError(message, goerrors.CategoryInternal, ShimErrorInternal, nil)
}

func NewNotFoundError(message string, metadata map[string]any) *goerrors.Error {
	return newShimError(message, goerrors.CategoryNotFound, ShimErrorNotFound, metadata)
}

// NewAuthenticationError means the caller must authenticate again.
func NewAuthenticationError(message string) *goerrors.Error {
	return newShimError(message, goerrors.CategoryAuth, ShimErrorUnauthenticated, nil)
}

// NewAuthorizationError means the caller is known but lacks permission.
func NewAuthorizationError(message string, metadata map[string]any) *goerrors.Error {
	return newShimError(message, goerrors.CategoryAuthz, ShimErrorPermissionDenied, metadata)
}

func NewConflictError(message string, metadata map[string]any) *goerrors.Error {
	return newShimError(message, goerrors.CategoryConflict, ShimErrorConflict, metadata)
}

// NewProviderError wraps a failed or malformed exchange with a third-party endpoint.
func NewProviderError(source error, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		source = ErrProviderResponse
	}
	err := goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(ShimErrorProviderFailure)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func NewUnsupportedError(message string) *goerrors.Error {
	return goerrors.Wrap(ErrUnsupportedOperation, goerrors.CategoryOperation, message).
		WithCode(http.StatusNotImplemented).
		WithTextCode(ShimErrorUnsupportedOperation)
}

// IsUnsupported reports whether err carries the unsupported-operation signal.
func IsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedOperation) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == ShimErrorUnsupportedOperation
	}
	return false
}

// NewRateLimitedError reports a provider that asked callers to back off.
func NewRateLimitedError(message string, retryAfter time.Duration, metadata map[string]any) *goerrors.Error {
	fields := map[string]any{}
	for key, value := range metadata {
		fields[key] = value
	}
	if retryAfter > 0 {
		fields["retry_after_ms"] = retryAfter.Milliseconds()
	}
	return newShimError(message, goerrors.CategoryRateLimit, ShimErrorRateLimited, fields)
}

// IsRateLimited reports whether err carries the rate-limited text code.
func IsRateLimited(err error) bool {
	var rich *goerrors.Error
	return err != nil && goerrors.As(err, &rich) && rich.TextCode == ShimErrorRateLimited
}

// MapError converts any error into the shim envelope with an HTTP status and
// text code set.
func MapError(err error) *goerrors.Error {
	return shimErrorMapper(err)
}

// wrapShimError keeps source matchable with errors.Is behind the shim envelope.
func wrapShimError(source error, category goerrors.Category, message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.Wrap(source, category, message).
		WithCode(shimHTTPStatus(category)).
		WithTextCode(defaultShimTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func newShimError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(shimHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func shimErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureShimErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrUnsupportedOperation):
		return NewUnsupportedError(err.Error())
	case errors.Is(err, ErrAuthorizationInfoNotFound), errors.Is(err, ErrShimNotFound), errors.Is(err, ErrSchemaNotFound):
		return ensureShimErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()))
	case errors.Is(err, ErrDuplicateCorrelationID):
		return ensureShimErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryConflict, err.Error()))
	case errors.Is(err, ErrProviderResponse):
		return NewProviderError(err, err.Error(), nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "not found"):
		return ensureShimErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()))
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return ensureShimErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureShimErrorEnvelope(mapped)
}

func ensureShimErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = shimHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultShimTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultShimTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ShimErrorBadInput
	case goerrors.CategoryNotFound:
		return ShimErrorNotFound
	case goerrors.CategoryAuth:
		return ShimErrorUnauthenticated
	case goerrors.CategoryAuthz:
		return ShimErrorPermissionDenied
	case goerrors.CategoryConflict:
		return ShimErrorConflict
	case goerrors.CategoryExternal:
		return ShimErrorProviderFailure
	case goerrors.CategoryOperation:
		return ShimErrorUnsupportedOperation
	case goerrors.CategoryRateLimit:
		return ShimErrorRateLimited
	default:
		return ShimErrorInternal
	}
}

func shimHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryOperation:
		return http.StatusNotImplemented
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
