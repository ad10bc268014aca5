// Package realtime provides the channel authorization callback and the
// self-hosted websocket endpoint.
//
// Endpoints (mounted at /api/realtime):
//   - POST /auth - Sign a private or presence channel subscription
//   - GET  /ws   - Websocket connection to the built-in hub
package realtime

import (
	"errors"
	"net/http"

	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/network"
	"go.uber.org/zap"
)

// Identities resolves the caller behind a request.
type Identities interface {
	Resolve(w http.ResponseWriter, r *http.Request) auth.Identity
}

// Handler serves realtime requests.
type Handler struct {
	ids    Identities
	authz  broadcast.Authorizer
	hub    http.Handler
	logger *zap.Logger
}

// NewHandler creates a realtime handler. authz may be nil when the configured
// broadcaster has no private channels; hub is nil unless the built-in hub is
// the broadcaster.
func NewHandler(ids Identities, authz broadcast.Authorizer, hub http.Handler, logger *zap.Logger) *Handler {
	return &Handler{
		ids:    ids,
		authz:  authz,
		hub:    hub,
		logger: logger,
	}
}

// MemberFor maps an identity to its presence member.
func MemberFor(id auth.Identity) *broadcast.Member {
	return &broadcast.Member{
		UserID: id.UserID,
		UserInfo: broadcast.MemberInfo{
			Name:  id.Name,
			Email: id.Email,
		},
	}
}

// AuthHandler handles POST /auth.
//
// Request (application/x-www-form-urlencoded):
//
//	socket_id=123.456&channel_name=presence-room-r1
//
// Response (200 OK) for a presence channel:
//
//	{"auth": "key:signature", "channel_data": "{\"user_id\":...}"}
func (h *Handler) AuthHandler(w http.ResponseWriter, r *http.Request) {
	if h.authz == nil {
		jsonutil.Error(w, http.StatusServiceUnavailable, "realtime authorization is not configured")
		return
	}

	if err := r.ParseForm(); err != nil {
		jsonutil.BadRequest(w, "invalid form body")
		return
	}
	socketID := r.PostForm.Get("socket_id")
	channel := r.PostForm.Get("channel_name")
	if socketID == "" || channel == "" {
		jsonutil.BadRequest(w, "Missing socket_id or channel_name")
		return
	}

	id := h.ids.Resolve(w, r)
	body, err := h.authz.Authorize(socketID, channel, MemberFor(id))
	switch {
	case errors.Is(err, broadcast.ErrPublicChannel):
		jsonutil.Error(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		h.logger.Error("channel authorization failed",
			zap.String("channel", channel),
			zap.String("user_id", id.UserID),
			zap.Error(err))
		jsonutil.InternalError(w, err.Error())
		return
	}

	h.logger.Debug("channel authorized",
		zap.String("channel", channel),
		zap.String("user_id", id.UserID),
		zap.Bool("guest", id.Guest),
		zap.String("client_ip", network.GetClientIP(r)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// SocketHandler handles GET /ws by handing the connection to the hub.
func (h *Handler) SocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		jsonutil.NotFound(w, "websocket endpoint is not enabled")
		return
	}
	h.hub.ServeHTTP(w, r)
}
