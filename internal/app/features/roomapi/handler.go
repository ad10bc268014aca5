// Package roomapi provides the room query and mutation endpoints.
//
// Endpoints (mounted at /api/room):
//   - GET  /save?roomId=...  - Current room snapshot
//   - POST /save             - Apply a mutation (content patch, tree and/or canvas replace)
//   - DELETE /{roomId}       - Remove a room (operator API key)
package roomapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	roomstore "github.com/dalemusser/devsync/internal/app/store/rooms"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"github.com/dalemusser/devsync/internal/app/system/inputval"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/requestlog"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Syncer is the gateway surface the handler needs.
type Syncer interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Mutate(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Deleter removes rooms.
type Deleter interface {
	Delete(ctx context.Context, roomID string) error
}

// GetResponse is the body of a successful GET.
type GetResponse struct {
	Room *models.Room `json:"room"`
}

// NotFoundResponse is the body of a GET for a room that was never written.
// It is an expected state for a brand-new room, not a failure.
type NotFoundResponse struct {
	Message string `json:"message"`
}

// SaveResponse is the body of a successful POST.
type SaveResponse struct {
	Success  bool         `json:"success"`
	Room     *models.Room `json:"room"`
	Applied  []string     `json:"applied"`
	Ignored  []string     `json:"ignored,omitempty"`
	NotFound bool         `json:"notFound,omitempty"`
}

// Handler handles room API requests.
type Handler struct {
	sync    Syncer
	rooms   Deleter
	logger  *zap.Logger
	maxBody int64
}

// NewHandler creates a new roomapi handler. maxBody caps request bodies;
// zero means no limit.
func NewHandler(sync Syncer, rooms Deleter, maxBody int64, logger *zap.Logger) *Handler {
	return &Handler{
		sync:    sync,
		rooms:   rooms,
		logger:  logger,
		maxBody: maxBody,
	}
}

// GetHandler handles GET /save?roomId=...
//
// Response (200 OK):
//
//	{"room": {"roomId": "r1", "files": [...], "elements": [...], ...}}
//
// Response (404 Not Found) for a room that has never been written:
//
//	{"message": "Room not found"}
func (h *Handler) GetHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if msg, ok := checkRoomID(roomID); !ok {
		jsonutil.BadRequest(w, msg)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Store(), h.logger, "room get")
	defer cancel()

	room, err := h.sync.Get(ctx, roomID)
	switch {
	case errors.Is(err, gateway.ErrMissingRoomID):
		jsonutil.BadRequest(w, err.Error())
		return
	case errors.Is(err, roomstore.ErrRoomNotFound):
		jsonutil.JSON(w, http.StatusNotFound, NotFoundResponse{Message: "Room not found"})
		return
	case err != nil:
		h.logger.Error("failed to load room",
			zap.String("room_id", roomID),
			zap.String("request_id", requestlog.ID(r.Context())),
			zap.Error(err))
		jsonutil.InternalError(w, err.Error())
		return
	}

	jsonutil.OK(w, GetResponse{Room: room})
}

// SaveHandler handles POST /save.
//
// Request body (any subset of the optional fields):
//
//	{
//	    "roomId": "r1",
//	    "files": [...],
//	    "fileId": "a", "content": "...",
//	    "elements": [...],
//	    "writeId": "01J..."
//	}
//
// A fileId+content pair is applied alone; files and elements sent with it
// are reported under "ignored".
func (h *Handler) SaveHandler(w http.ResponseWriter, r *http.Request) {
	var req gateway.Request
	if err := jsonutil.DecodeLimited(w, r, &req, h.maxBody); err != nil {
		if errors.Is(err, jsonutil.ErrBodyTooLarge) {
			jsonutil.TooLarge(w, err.Error())
			return
		}
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if msg, ok := checkRoomID(req.RoomID); !ok {
		jsonutil.BadRequest(w, msg)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Store(), h.logger, "room save")
	defer cancel()

	res, err := h.sync.Mutate(ctx, req)
	switch {
	case errors.Is(err, gateway.ErrMissingRoomID),
		errors.Is(err, gateway.ErrEmptyMutation),
		errors.Is(err, gateway.ErrInvalidTree),
		errors.Is(err, gateway.ErrInvalidCanvas):
		jsonutil.BadRequest(w, err.Error())
		return
	case err != nil:
		jsonutil.InternalError(w, err.Error())
		return
	}

	applied := res.Applied
	if applied == nil {
		applied = []string{}
	}
	jsonutil.OK(w, SaveResponse{
		Success:  true,
		Room:     res.Room,
		Applied:  applied,
		Ignored:  res.Ignored,
		NotFound: res.NotFound,
	})
}

// DeleteHandler handles DELETE /{roomId}.
func (h *Handler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if msg, ok := checkRoomID(roomID); !ok {
		jsonutil.BadRequest(w, msg)
		return
	}
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Store(), h.logger, "room delete")
	defer cancel()

	if err := h.rooms.Delete(ctx, roomID); err != nil {
		h.logger.Error("failed to delete room",
			zap.String("room_id", roomID),
			zap.String("request_id", requestlog.ID(r.Context())),
			zap.Error(err))
		jsonutil.InternalError(w, err.Error())
		return
	}
	h.logger.Info("room deleted",
		zap.String("room_id", roomID),
		zap.String("request_id", requestlog.ID(r.Context())))
	jsonutil.NoContent(w)
}

type roomRef struct {
	RoomID string `json:"roomId" validate:"required,roomid"`
}

// checkRoomID validates a room id before it reaches the store or becomes
// part of a channel name.
func checkRoomID(roomID string) (string, bool) {
	res := inputval.Validate(roomRef{RoomID: strings.TrimSpace(roomID)})
	if res.HasErrors() {
		return res.First(), false
	}
	return "", true
}
