package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/logger"
)

const (
	correlationHeader = "X-Correlation-ID"
	// Longer ids are replaced so a client cannot bloat every log line.
	maxCorrelationIDLen = 128
)

type requestFieldsKey struct{}

// requestFields collects the booking and message identifiers a handler
// touched so the access log line can carry them.
type requestFields struct {
	mu     sync.Mutex
	fields map[string]string
}

// annotate attaches a field to the access log line of the request. It is a
// no-op outside LoggingMiddleware.
func annotate(ctx context.Context, key, value string) {
	rf, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok || value == "" {
		return
	}
	rf.mu.Lock()
	rf.fields[key] = value
	rf.mu.Unlock()
}

// LoggingMiddleware logs one line per request with the matched route, the
// status and any booking or message ids the handler annotated. Server
// errors log at error level and client errors at warn.
func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			rf := &requestFields{fields: make(map[string]string)}

			reqLog := log.With().Str("correlation_id", logger.CorrelationIDFromContext(r.Context())).Logger()
			ctx := logger.WithLogger(r.Context(), reqLog)
			ctx = context.WithValue(ctx, requestFieldsKey{}, rf)
			next.ServeHTTP(sw, r.WithContext(ctx))

			route := routePattern(r)
			elapsed := time.Since(start)
			HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			var event *zerolog.Event
			switch {
			case sw.status >= 500:
				event = reqLog.Error()
			case sw.status >= 400:
				event = reqLog.Warn()
			default:
				event = reqLog.Info()
			}

			rf.mu.Lock()
			for k, v := range rf.fields {
				event = event.Str(k, v)
			}
			rf.mu.Unlock()

			event.
				Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", elapsed).
				Msg("request completed")
		})
	}
}

// routePattern returns the chi pattern that matched, so requests for
// different bookings share one metric series.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// CorrelationIDMiddleware reuses the caller's X-Correlation-ID or generates
// one, echoes it on the response and stores it in the request context.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(correlationHeader)
		if correlationID == "" || len(correlationID) > maxCorrelationIDLen {
			correlationID = logger.NewCorrelationID()
		}

		w.Header().Set(correlationHeader, correlationID)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), correlationID)))
	})
}

// RecoverMiddleware turns a handler panic into a 500 unless the handler
// already started the response.
func RecoverMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("correlation_id", logger.CorrelationIDFromContext(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if sw, ok := w.(*statusWriter); ok && sw.wroteHeader {
					return
				}
				respondError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
