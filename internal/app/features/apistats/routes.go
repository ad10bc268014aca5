package apistats

import (
	"net/http"

	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Routes returns the router for the API stats feature. Every endpoint
// requires the admin API key.
func Routes(h *Handler, adminKey string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.APIKeyAuth(adminKey, logger))

	r.Get("/", h.ServeSummary)
	r.Get("/{statType}", h.ServeSeries)

	return r
}
