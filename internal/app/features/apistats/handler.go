// Package apistats serves aggregated room API request statistics.
//
// Endpoints (mounted at /api/stats, admin API key required):
//   - GET /?range=24h             - Per-endpoint totals over the range
//   - GET /{statType}?range=24h   - Time buckets for one endpoint
package apistats

import (
	"context"
	"net/http"
	"time"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Reader is the stats store surface the handler needs.
type Reader interface {
	GetSummary(ctx context.Context, start, end time.Time) ([]apistatsstore.Summary, error)
	GetRange(ctx context.Context, statType apistatsstore.StatType, start, end time.Time) ([]apistatsstore.Bucket, error)
}

// SummaryResponse is the body of GET /.
type SummaryResponse struct {
	Range     string                  `json:"range"`
	Start     time.Time               `json:"start"`
	End       time.Time               `json:"end"`
	Summaries []apistatsstore.Summary `json:"summaries"`
}

// DataPoint is one bucket in a time series.
type DataPoint struct {
	Bucket   time.Time `json:"bucket"`
	Requests int64     `json:"requests"`
	Errors   int64     `json:"errors"`
	AvgMs    float64   `json:"avgMs"`
	MaxMs    int64     `json:"maxMs"`
}

// SeriesResponse is the body of GET /{statType}.
type SeriesResponse struct {
	StatType apistatsstore.StatType `json:"statType"`
	Range    string                 `json:"range"`
	Points   []DataPoint            `json:"points"`
}

// Handler serves API statistics.
type Handler struct {
	store  Reader
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new API stats handler.
func NewHandler(store Reader, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

var ranges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

var statTypes = map[apistatsstore.StatType]bool{
	apistatsstore.StatTypeRoomGet:      true,
	apistatsstore.StatTypeRoomSave:     true,
	apistatsstore.StatTypeRoomDelete:   true,
	apistatsstore.StatTypeRealtimeAuth: true,
	apistatsstore.StatTypeExecute:      true,
}

// parseRange resolves the range query parameter. Unknown values fall back
// to 24h.
func (h *Handler) parseRange(r *http.Request) (string, time.Time, time.Time) {
	timeRange := r.URL.Query().Get("range")
	d, ok := ranges[timeRange]
	if !ok {
		timeRange, d = "24h", ranges["24h"]
	}
	end := h.now().UTC()
	return timeRange, end.Add(-d), end
}

// ServeSummary handles GET /.
func (h *Handler) ServeSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	timeRange, start, end := h.parseRange(r)
	summaries, err := h.store.GetSummary(ctx, start, end)
	if err != nil {
		h.logger.Error("failed to load API stats summary", zap.Error(err))
		jsonutil.InternalError(w, "failed to load stats")
		return
	}

	jsonutil.OK(w, SummaryResponse{
		Range:     timeRange,
		Start:     start,
		End:       end,
		Summaries: summaries,
	})
}

// ServeSeries handles GET /{statType}.
func (h *Handler) ServeSeries(w http.ResponseWriter, r *http.Request) {
	statType := apistatsstore.StatType(chi.URLParam(r, "statType"))
	if !statTypes[statType] {
		jsonutil.NotFound(w, "unknown stat type")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	timeRange, start, end := h.parseRange(r)
	buckets, err := h.store.GetRange(ctx, statType, start, end)
	if err != nil {
		h.logger.Error("failed to load API stats series",
			zap.String("stat_type", string(statType)),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to load stats")
		return
	}

	points := make([]DataPoint, len(buckets))
	for i, b := range buckets {
		points[i] = DataPoint{
			Bucket:   b.Bucket,
			Requests: b.Requests,
			Errors:   b.Errors,
			AvgMs:    b.AvgMs(),
			MaxMs:    b.MaxMs,
		}
	}

	jsonutil.OK(w, SeriesResponse{
		StatType: statType,
		Range:    timeRange,
		Points:   points,
	})
}
