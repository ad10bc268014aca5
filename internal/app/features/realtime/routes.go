package realtime

import (
	"net/http"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/apicors"
	"github.com/dalemusser/devsync/internal/app/system/apistats"
	"github.com/go-chi/chi/v5"
)

// Routes returns a chi.Router with realtime routes mounted. The auth callback
// reads the caller's cookies, so CORS is restricted to allowedOrigins.
func Routes(h *Handler, recorder *apistats.Recorder, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(apicors.MiddlewareWithCredentials(allowedOrigins...))
		r.With(apistats.MiddlewareWithRecorder(recorder, apistatsstore.StatTypeRealtimeAuth)).
			Post("/auth", h.AuthHandler)
		r.Options("/auth", func(w http.ResponseWriter, r *http.Request) {})
	})

	r.Get("/ws", h.SocketHandler)

	return r
}
