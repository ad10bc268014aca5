// internal/app/features/status/routes.go
package status

import (
	"net/http"

	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Routes returns a chi.Router with the status report behind the admin API key.
func Routes(h *Handler, adminKey string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.APIKeyAuth(adminKey, logger))
	r.Get("/", h.Serve)
	return r
}
