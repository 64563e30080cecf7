// Package errors defines the sentinel errors and HTTP status mapping shared
// across the search and relevance engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDocumentNotFound is returned when a query references a post the
	// engine has never indexed (e.g. related-posts for an unknown id).
	ErrDocumentNotFound = errors.New("document not found")
	// ErrUnknownDocument marks a remove or update for a doc_id that is not
	// indexed. Callers treat it as a no-op so change events can be replayed
	// safely.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrIndexInconsistent signals an internal invariant violation, such as
	// postings without a vocabulary entry. The offending operation is
	// aborted and a full rebuild is scheduled.
	ErrIndexInconsistent = errors.New("index inconsistent")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBlogNotFound      = errors.New("blog not found")
	ErrTimeout           = errors.New("operation timed out")
)

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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrBlogNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
