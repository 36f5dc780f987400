// Package errors defines the sentinel errors shared across the service and
// an AppError wrapper carrying an HTTP status code for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrCorpusNotConfigured   = errors.New("corpus not configured")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrEmptyQuerySlot        = errors.New("only non-empty tokens allowed")
	ErrPagingBounds          = errors.New("paging bounds violated")
	ErrMalformedToken        = errors.New("malformed encoded token")
	ErrIndexDrift            = errors.New("position index out of sync with document index")
	ErrLemmatizerUnavailable = errors.New("lemmatizer service unavailable")
	ErrEngineUnavailable     = errors.New("search engine unavailable")
	ErrTitleMissing          = errors.New("no title strategy produced a title")
	ErrInternal              = errors.New("internal error")
	ErrTimeout               = errors.New("operation timed out")
)

// AppError wraps a sentinel error with a human-readable message and the
// HTTP status the API layer should answer with.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the API should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrCorpusNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrEmptyQuerySlot), errors.Is(err, ErrPagingBounds):
		return http.StatusBadRequest
	case errors.Is(err, ErrLemmatizerUnavailable), errors.Is(err, ErrEngineUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
