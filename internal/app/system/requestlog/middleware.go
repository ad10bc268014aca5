// internal/app/system/requestlog/middleware.go
package requestlog

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/network"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// maxClientIDLen caps a client-supplied request id.
const maxClientIDLen = 128

type ctxKey struct{}

// Config holds configuration for the request log middleware.
type Config struct {
	Logger *zap.Logger

	// ExcludePaths are path prefixes that get a request id but no log line.
	// Common examples: "/health", "/livez".
	ExcludePaths []string
}

// DefaultConfig returns a Config that skips probe endpoints.
func DefaultConfig(logger *zap.Logger) Config {
	return Config{
		Logger: logger,
		ExcludePaths: []string{
			"/health",
			"/ready",
			"/readyz",
			"/livez",
			"/favicon.ico",
		},
	}
}

// ID returns the request id stored by Middleware, or "".
func ID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithID returns a context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware assigns every request an id, echoes it in the X-Request-ID
// response header, and logs one line per request at Debug (2xx/3xx), Warn
// (4xx), or Error (5xx). A well-formed client-supplied id is kept.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := clientID(r.Header.Get(HeaderRequestID))
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(HeaderRequestID, requestID)
			r = r.WithContext(WithID(r.Context(), requestID))

			if excluded(r.URL.Path, cfg.ExcludePaths) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("client_ip", network.GetClientIP(r)),
			}
			switch {
			case rw.status >= 500:
				cfg.Logger.Error("request failed", fields...)
			case rw.status >= 400:
				cfg.Logger.Warn("request rejected", fields...)
			default:
				cfg.Logger.Debug("request", fields...)
			}
		})
	}
}

// clientID returns v if it is usable as a request id.
func clientID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxClientIDLen {
		return ""
	}
	for _, c := range v {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return v
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for the websocket upgrade.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("requestlog: response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

// Flush implements http.Flusher.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
