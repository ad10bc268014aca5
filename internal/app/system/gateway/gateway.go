// internal/app/system/gateway/gateway.go

// Package gateway is the single path through which room mutations pass. It
// decides what to persist and what to broadcast.
//
// Persistence is last-write-wins per field group: one file's content, the
// whole file tree, or the whole canvas. Broadcasts are queued only after the
// store accepts the write and are not awaited.
package gateway

import (
	"context"
	"errors"
	"strings"

	roomstore "github.com/dalemusser/devsync/internal/app/store/rooms"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/domain/models"
	"go.uber.org/zap"
)

// Store is the room persistence the gateway writes through.
type Store interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Upsert(ctx context.Context, roomID string, up roomstore.Update) (*models.Room, error)
	PatchFileContent(ctx context.Context, roomID, fileID, content string) (*models.Room, error)
}

// Publisher queues a broadcast without blocking.
type Publisher interface {
	Enqueue(channel, event string, data any) bool
}

// Options configures a Gateway.
type Options struct {
	// ValidateTree rejects replacement trees that are structurally
	// inconsistent.
	ValidateTree bool
}

// Result describes the outcome of a mutation.
type Result struct {
	// Room is the document after the mutation. It is nil only when a content
	// patch targeted a room that does not exist.
	Room    *models.Room
	Applied []string
	Ignored []string
	// NotFound is set when a content patch targeted a missing room or file.
	NotFound bool
}

// Gateway applies mutations and schedules their broadcasts.
type Gateway struct {
	store        Store
	pub          Publisher
	logger       *zap.Logger
	validateTree bool
}

// New creates a Gateway.
func New(store Store, pub Publisher, logger *zap.Logger, opts Options) *Gateway {
	return &Gateway{
		store:        store,
		pub:          pub,
		logger:       logger,
		validateTree: opts.ValidateTree,
	}
}

// Get returns the room snapshot, or roomstore.ErrRoomNotFound for a room
// that has never been written.
func (g *Gateway) Get(ctx context.Context, roomID string) (*models.Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrMissingRoomID
	}
	room, err := g.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return normalize(room), nil
}

// Mutate decodes and applies a request.
func (g *Gateway) Mutate(ctx context.Context, req Request) (Result, error) {
	m, err := Decode(req, g.validateTree)
	if err != nil {
		return Result{}, err
	}
	return g.Apply(ctx, m)
}

// Apply executes a decoded mutation.
func (g *Gateway) Apply(ctx context.Context, m Mutation) (Result, error) {
	if len(m.Ignored) > 0 {
		g.logger.Warn("mutation fields ignored",
			zap.String("room_id", m.RoomID),
			zap.Strings("fields", m.Ignored),
			zap.Bool("content_patch", m.IsPatch()))
	}
	if m.IsPatch() {
		return g.applyPatch(ctx, m)
	}
	return g.applyReplace(ctx, m)
}

func (g *Gateway) applyPatch(ctx context.Context, m Mutation) (Result, error) {
	res := Result{Ignored: m.Ignored}
	room, err := g.store.PatchFileContent(ctx, m.RoomID, m.Patch.FileID, m.Patch.Content)
	switch {
	case errors.Is(err, roomstore.ErrFileNotFound), errors.Is(err, roomstore.ErrRoomNotFound):
		g.logger.Debug("content patch target not found",
			zap.String("room_id", m.RoomID),
			zap.String("file_id", m.Patch.FileID))
		res.NotFound = true
		current, gerr := g.store.Get(ctx, m.RoomID)
		if gerr != nil && !errors.Is(gerr, roomstore.ErrRoomNotFound) {
			return Result{}, gerr
		}
		if current != nil {
			res.Room = normalize(current)
		}
		return res, nil
	case err != nil:
		g.logger.Error("content patch failed",
			zap.String("room_id", m.RoomID),
			zap.String("file_id", m.Patch.FileID),
			zap.Error(err))
		return Result{}, err
	}

	res.Room = normalize(room)
	res.Applied = []string{FieldContent}
	g.publish(m.RoomID, broadcast.EventFileContentChanged, broadcast.FileContentChanged{
		FileID:  m.Patch.FileID,
		Content: m.Patch.Content,
		WriteID: m.WriteID,
	})
	g.logger.Debug("content patched",
		zap.String("room_id", m.RoomID),
		zap.String("file_id", m.Patch.FileID),
		zap.String("write_id", m.WriteID))
	return res, nil
}

func (g *Gateway) applyReplace(ctx context.Context, m Mutation) (Result, error) {
	var up roomstore.Update
	if m.Tree != nil {
		up.Files = &m.Tree.Files
	}
	if m.Canvas != nil {
		up.Elements = &m.Canvas.Elements
	}

	room, err := g.store.Upsert(ctx, m.RoomID, up)
	if err != nil {
		g.logger.Error("room upsert failed",
			zap.String("room_id", m.RoomID),
			zap.Error(err))
		return Result{}, err
	}

	res := Result{Room: normalize(room), Ignored: m.Ignored}
	if m.Tree != nil {
		res.Applied = append(res.Applied, FieldFiles)
		g.publish(m.RoomID, broadcast.EventFileTreeChanged, broadcast.FileTreeChanged{
			Files:   m.Tree.Files,
			WriteID: m.WriteID,
		})
	}
	if m.Canvas != nil {
		res.Applied = append(res.Applied, FieldElements)
		g.publish(m.RoomID, broadcast.EventCanvasChanged, broadcast.CanvasChanged{
			Elements: m.Canvas.Elements,
			WriteID:  m.WriteID,
		})
	}
	g.logger.Debug("room replaced",
		zap.String("room_id", m.RoomID),
		zap.Strings("fields", res.Applied),
		zap.String("write_id", m.WriteID))
	return res, nil
}

func (g *Gateway) publish(roomID, event string, data any) {
	g.pub.Enqueue(broadcast.RoomChannel(roomID), event, data)
}

// normalize replaces nil arrays so the document always encodes with [].
func normalize(r *models.Room) *models.Room {
	if r.Files == nil {
		r.Files = []models.FileSystemItem{}
	}
	if r.Elements == nil {
		r.Elements = []models.CanvasElement{}
	}
	return r
}
