// Package apistats provides middleware for tracking API request statistics.
package apistats

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Sink persists one request's statistics.
type Sink interface {
	Record(ctx context.Context, statType apistats.StatType, bucketDuration time.Duration, durationMs int64, isError bool) error
}

// Recorder records request statistics without blocking the response.
type Recorder struct {
	sink           Sink
	logger         *zap.Logger
	bucketDuration time.Duration
}

// NewRecorder creates a recorder that aggregates into buckets of the given
// size. A non-positive size means one hour.
func NewRecorder(sink Sink, logger *zap.Logger, bucketDuration time.Duration) *Recorder {
	if bucketDuration <= 0 {
		bucketDuration = time.Hour
	}
	return &Recorder{
		sink:           sink,
		logger:         logger,
		bucketDuration: bucketDuration,
	}
}

// BucketDuration returns the bucket size.
func (r *Recorder) BucketDuration() time.Duration {
	return r.bucketDuration
}

// Record records a single request asynchronously.
func (r *Recorder) Record(statType apistats.StatType, durationMs int64, isError bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Store())
		defer cancel()

		if err := r.sink.Record(ctx, statType, r.bucketDuration, durationMs, isError); err != nil {
			r.logger.Error("failed to record API stats",
				zap.String("stat_type", string(statType)),
				zap.Error(err))
		}
	}()
}

// MiddlewareWithRecorder returns HTTP middleware that records each request under
// statType. A nil recorder passes requests through untouched.
func MiddlewareWithRecorder(recorder *Recorder, statType apistats.StatType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			recorder.Record(statType, time.Since(start).Milliseconds(), wrapped.statusCode >= 400)
		})
	}
}

// responseWrapper captures the status code.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
