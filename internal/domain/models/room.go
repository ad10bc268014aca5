package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Default seed file placed in every newly created room.
const (
	DefaultFileID      = "default"
	DefaultFileName    = "index.js"
	DefaultFileContent = "// Welcome to DevSync\n// Start coding..."
)

// Room is the unit of collaboration: one document per room identifier holding
// the file tree and the whiteboard elements.
type Room struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RoomID    string             `bson:"room_id"       json:"roomId"`
	Files     []FileSystemItem   `bson:"files"         json:"files"`
	Elements  []CanvasElement    `bson:"elements"      json:"elements"`
	CreatedAt time.Time          `bson:"created_at"    json:"createdAt"`
	UpdatedAt time.Time          `bson:"updated_at"    json:"updatedAt"`
}

// DefaultFiles returns the file tree a room is seeded with on creation.
func DefaultFiles() []FileSystemItem {
	return []FileSystemItem{{
		ID:      DefaultFileID,
		Name:    DefaultFileName,
		Type:    ItemFile,
		Content: DefaultFileContent,
	}}
}

// FindFile returns the item with the given id, or nil.
func (r *Room) FindFile(id string) *FileSystemItem {
	for i := range r.Files {
		if r.Files[i].ID == id {
			return &r.Files[i]
		}
	}
	return nil
}
