package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/bloghive/relevance/pkg/errors"
	"github.com/bloghive/relevance/pkg/logger"
)

// Timeout cancels request handling at the deadline. If the handler has not
// started writing by then, the client gets the query API's JSON error shape
// with the timeout sentinel's status; a handler that already committed a
// response keeps it, and any writes it attempts afterwards are discarded.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &deadlineWriter{rw: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if !dw.expire() {
					return
				}
				logger.FromContext(r.Context()).Warn("request deadline exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"timeout", timeout,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apperrors.HTTPStatusCode(apperrors.ErrTimeout))
				json.NewEncoder(w).Encode(map[string]string{
					"error": apperrors.ErrTimeout.Error(),
				})
			}
		})
	}
}

// deadlineWriter hands the response to exactly one side: the handler, or
// the timeout branch once expire() wins. Writes from a handler that lost
// the race are swallowed rather than interleaved into the error body.
type deadlineWriter struct {
	rw      http.ResponseWriter
	mu      sync.Mutex
	wrote   bool
	expired bool
}

func (dw *deadlineWriter) Header() http.Header {
	return dw.rw.Header()
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return
	}
	dw.wrote = true
	dw.rw.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return len(b), nil
	}
	dw.wrote = true
	return dw.rw.Write(b)
}

// expire cuts the handler off from the response and reports whether the
// timeout branch may write the error, i.e. the handler had not written yet.
func (dw *deadlineWriter) expire() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.expired = true
	return !dw.wrote
}
