// internal/app/store/rooms/memory.go
package roomstore

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/devsync/internal/domain/models"
)

// Memory is an in-process room store with the same semantics as Store.
// Each call is atomic with respect to the others.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	now   func() time.Time
}

// NewMemory creates an empty in-memory room store.
func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]*models.Room),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the room, or ErrRoomNotFound.
func (m *Memory) Get(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

// Upsert creates or updates the room.
func (m *Memory) Upsert(_ context.Context, roomID string, up Update) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	r, ok := m.rooms[roomID]
	if !ok {
		r = &models.Room{
			RoomID:    roomID,
			Files:     models.DefaultFiles(),
			Elements:  []models.CanvasElement{},
			CreatedAt: now,
		}
		m.rooms[roomID] = r
	}
	if up.Files != nil {
		r.Files = applyContents(*up.Files, nil)
	}
	if len(up.Contents) > 0 {
		r.Files = applyContents(r.Files, up.Contents)
	}
	if up.Elements != nil {
		r.Elements = cloneElements(nonNilElements(*up.Elements))
	}
	r.UpdatedAt = now
	return cloneRoom(r), nil
}

// PatchFileContent replaces one file's content, or reports ErrRoomNotFound
// or ErrFileNotFound without writing.
func (m *Memory) PatchFileContent(_ context.Context, roomID, fileID, content string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	f := r.FindFile(fileID)
	if f == nil || f.IsFolder() {
		return nil, ErrFileNotFound
	}
	f.Content = content
	r.UpdatedAt = m.now()
	return cloneRoom(r), nil
}

// Delete removes a room.
func (m *Memory) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

// DeleteIdleBefore removes rooms last updated before cutoff.
func (m *Memory) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rooms {
		if r.UpdatedAt.Before(cutoff) {
			delete(m.rooms, id)
			n++
		}
	}
	return n, nil
}

func cloneRoom(r *models.Room) *models.Room {
	out := *r
	out.Files = applyContents(r.Files, nil)
	out.Elements = cloneElements(r.Elements)
	return &out
}

func cloneElements(els []models.CanvasElement) []models.CanvasElement {
	if els == nil {
		return nil
	}
	out := make([]models.CanvasElement, len(els))
	for i, e := range els {
		e.Points = append([]models.Point(nil), e.Points...)
		out[i] = e
	}
	return out
}
