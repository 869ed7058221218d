package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
	"github.com/berserksystems/instrumentality/internal/logging"
)

// loggingMiddleware logs every request's method, path, status, and
// duration, grounded on the teacher's infrastructure/middleware/logging.go.
func loggingMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.Component("httpapi").WithFields(map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.statusCode,
				"duration": time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// recoveryMiddleware converts a panic into an INTERNAL_SERVER_ERROR
// envelope instead of crashing the process, grounded on the teacher's
// infrastructure/middleware/recovery.go.
func recoveryMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Component("httpapi").WithFields(map[string]any{
						"panic": rec,
						"stack": string(debug.Stack()),
						"path":  r.URL.Path,
					}).Error("panic recovered")
					writeErr(w, coordinatorerr.Internal("internal error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware enforces the request's outer deadline (recommended
// 5 seconds). On timeout the handler's later writes are discarded and a
// REQUEST_TIMEOUT envelope is sent instead, unless the handler had already
// begun its response. The handler's context is cancelled, which rolls back
// its in-flight transaction; a lease acquired during the request stays in
// place until the sweeper reclaims it. A panic in the handler is re-raised
// on the serving goroutine so recoveryMiddleware can report it.
func timeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			var panicVal any
			tw := &timeoutWriter{ResponseWriter: w}
			go func() {
				defer close(done)
				defer func() { panicVal = recover() }()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				if panicVal != nil {
					panic(panicVal)
				}
			case <-ctx.Done():
				tw.mu.Lock()
				tw.timedOut = true
				if !tw.written {
					tw.written = true
					writeErr(w, coordinatorerr.Timeout("request timed out"))
				}
				tw.mu.Unlock()
			}
		})
	}
}

// timeoutWriter guards against writing a response twice when the handler
// finishes concurrently with the deadline firing.
type timeoutWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	written  bool
	timedOut bool
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written {
		return
	}
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !w.written {
		w.written = true
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
