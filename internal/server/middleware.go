// -----------------------------------------------------------------------
// Middleware - Correlation, request logging, CORS, and panic recovery
// for the ingestion API
// -----------------------------------------------------------------------

package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// withMiddleware wraps the router with the middleware chain.
// Applied in reverse order: last applied runs first.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = s.recoveryMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.correlationIDMiddleware(handler)
	return handler
}

// withConditionalMiddleware bypasses the chain for WebSocket upgrades:
// the hijacked connection must not pass through the logging wrapper, and a
// progress stream has its own job correlation via the job_id parameter.
func (s *Server) withConditionalMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			applyCORSHeaders(w)
			handler.ServeHTTP(w, r)
			return
		}
		s.withMiddleware(handler).ServeHTTP(w, r)
	})
}

// correlationIDMiddleware picks the correlation ID for a request. A client
// X-Request-ID header wins; otherwise requests that address a job
// ("/api/jobs/{id}...") correlate under that job ID so API access lines
// interleave with the job's pipeline logs, and other requests get a fresh
// request-scoped ID.
func (s *Server) correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Request-ID")
		if correlationID == "" {
			correlationID = jobIDFromPath(r.URL.Path)
		}
		if correlationID == "" {
			correlationID = "req_" + uuid.New().String()
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware emits one structured line per request. Job-addressed
// requests carry the job_id field; submissions log at info so every job's
// origin is traceable, routine reads stay at trace.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		correlationID, _ := r.Context().Value(correlationIDKey).(string)
		jobID := jobIDFromPath(r.URL.Path)

		var event arbor.ILogEvent
		message := "API request"
		switch {
		case rw.status >= 500:
			event = s.app.Logger.Error()
			message = "API request - server error"
		case rw.status >= 400:
			event = s.app.Logger.Warn()
			message = "API request - client error"
		case r.URL.Path == "/api/ingest":
			event = s.app.Logger.Info()
			message = "Ingestion submitted via API"
		default:
			event = s.app.Logger.Trace()
		}

		event.
			Str("correlation_id", correlationID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("bytes", rw.bytes).
			Str("remote", r.RemoteAddr)
		if jobID != "" {
			event.Str("job_id", jobID)
		}
		if r.URL.RawQuery != "" {
			event.Str("query", r.URL.RawQuery)
		}
		event.Msg(message)
	})
}

// corsMiddleware allows cross-origin access for local tooling
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func applyCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

// recoveryMiddleware turns handler panics into 500s. The panic file names
// the job the request addressed, so a crash during a submit or cancel is
// attributable to its pipeline.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				correlationID, _ := r.Context().Value(correlationIDKey).(string)
				jobID := jobIDFromPath(r.URL.Path)

				report := common.RecordPanic(common.PanicReport{
					Goroutine: "http",
					JobID:     jobID,
					Value:     rec,
					Stack:     common.GetStackTrace(),
				})

				s.app.Logger.Error().
					Str("correlation_id", correlationID).
					Str("job_id", jobID).
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("report", report).
					Msg("Panic recovered in API handler")

				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// jobIDFromPath extracts the job ID from "/api/jobs/{id}" and its
// subresources. Returns "" for every other route.
func jobIDFromPath(path string) string {
	const prefix = "/api/jobs/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.Trim(path[len(prefix):], "/")
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if !strings.HasPrefix(rest, "job_") {
		return ""
	}
	return rest
}

// statusWriter captures the status code and byte count for request logging
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Hijack passes through so upgraded connections keep working behind the wrapper
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}
