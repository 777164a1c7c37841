package banditapi

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey[T any] string

func (k contextKey[T]) withValue(ctx context.Context, t T) context.Context {
	return context.WithValue(ctx, k, t)
}

func (k contextKey[T]) value(ctx context.Context) (T, bool) {
	t, ok := ctx.Value(k).(T)
	return t, ok
}

var requestIDContext contextKey[string] = "request_id"

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := requestIDContext.value(ctx)
	return id
}

// withRequestID keeps the client's request id, or assigns a new uuid.
func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)

		h.ServeHTTP(w, r.WithContext(requestIDContext.withValue(r.Context(), id)))
	})
}

// logRequest logs every request and turns panics into a 500.
func logRequest(logger *slog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		args := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.EscapedPath()),
			slog.String("request_id", RequestID(r.Context())),
		}

		defer func() {
			if err := recover(); err != nil {
				if !rw.wroteHeader {
					writeJSON(rw, Body{Error: &Error{Code: "internal", Message: http.StatusText(http.StatusInternalServerError)}}, http.StatusInternalServerError)
				}
				args = append(args,
					slog.Any("err", err),
					slog.String("trace", string(debug.Stack())),
				)
				logger.ErrorContext(r.Context(), "server panic", args...)
			}
		}()

		h.ServeHTTP(rw, r)

		args = append(args,
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
		logger.InfoContext(r.Context(), "server request", args...)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
