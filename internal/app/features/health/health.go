// internal/app/features/health/health.go
package health

import (
	"context"
	"net/http"

	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler provides health check endpoints.
type Handler struct {
	mongoClient *mongo.Client
	dispatcher  *broadcast.Dispatcher
	logger      *zap.Logger
}

// NewHandler creates a new health check Handler. mongoClient is nil when
// rooms are kept in memory; dispatcher may be nil in tests.
func NewHandler(mongoClient *mongo.Client, dispatcher *broadcast.Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{
		mongoClient: mongoClient,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Response represents the health check response.
type Response struct {
	Status    string                   `json:"status"`
	Services  map[string]string        `json:"services,omitempty"`
	Broadcast *broadcast.DispatchStats `json:"broadcast,omitempty"`
}

// queueSaturated is the fraction of dropped events above which broadcast
// is reported as degraded.
const queueSaturated = 0.05

// Routes returns a chi.Router with health check routes mounted.
// Provides /health (full check), /health/ready, and /health/live.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Check)
	r.Get("/ready", h.Ready)
	r.Get("/live", h.Live)
	return r
}

// MountRootEndpoints adds /ready and /livez endpoints directly on the root router.
// This is the standard convention for Kubernetes probes:
//   - /ready (or /readyz) - readiness probe
//   - /livez - liveness probe
func MountRootEndpoints(r chi.Router, h *Handler) {
	r.Get("/ready", h.Ready)
	r.Get("/readyz", h.Ready)
	r.Get("/livez", h.Live)
}

// Check reports the room store and the broadcast pipeline.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:   "ok",
		Services: make(map[string]string),
	}

	switch err := h.pingMongo(r.Context()); {
	case h.mongoClient == nil:
		resp.Services["mongodb"] = "disabled"
	case err != nil:
		resp.Status = "degraded"
		resp.Services["mongodb"] = "unavailable"
		h.logger.Warn("health check: mongodb ping failed", zap.Error(err))
	default:
		resp.Services["mongodb"] = "ok"
	}

	if h.dispatcher != nil {
		stats := h.dispatcher.Stats()
		resp.Broadcast = &stats
		state := "ok"
		if total := stats.Published + stats.Failed + stats.Dropped; total > 0 &&
			float64(stats.Dropped+stats.Failed)/float64(total) > queueSaturated {
			state = "degraded"
		}
		resp.Services["broadcast:"+h.dispatcher.Backend().Name()] = state
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	jsonutil.JSON(w, status, resp)
}

// Ready checks if the service is ready to accept requests.
// Used by Kubernetes readiness probes.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.pingMongo(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

// Live checks if the service is alive.
// Used by Kubernetes liveness probes.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"alive"}`))
}

func (h *Handler) pingMongo(ctx context.Context) error {
	if h.mongoClient == nil {
		return nil
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Ping(), h.logger, "health ping")
	defer cancel()
	return h.mongoClient.Ping(ctx, readpref.Primary())
}
