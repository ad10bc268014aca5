package roomapi

import (
	"net/http"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/apicors"
	"github.com/dalemusser/devsync/internal/app/system/apistats"
	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Routes returns a router with the room endpoints.
//
// When mounted at /api/room:
//   - GET    /api/room/save     - Room snapshot
//   - POST   /api/room/save     - Mutation
//   - DELETE /api/room/{roomId} - Operator delete (Bearer admin API key)
//
// CORS is permissive since the room API uses no cookies. A nil recorder
// disables request statistics.
func Routes(h *Handler, recorder *apistats.Recorder, adminKey string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())

	r.With(apistats.MiddlewareWithRecorder(recorder, apistatsstore.StatTypeRoomGet)).
		Get("/save", h.GetHandler)
	r.With(apistats.MiddlewareWithRecorder(recorder, apistatsstore.StatTypeRoomSave)).
		Post("/save", h.SaveHandler)

	r.Group(func(ar chi.Router) {
		ar.Use(auth.APIKeyAuth(adminKey, logger))
		ar.Use(apistats.MiddlewareWithRecorder(recorder, apistatsstore.StatTypeRoomDelete))
		ar.Delete("/{roomId}", h.DeleteHandler)
	})

	return r
}
