// internal/app/store/rooms/roomstore.go
package roomstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/devsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding one document per room.
const CollectionName = "rooms"

var (
	// ErrRoomNotFound is returned when no document exists for a room id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrFileNotFound is returned by PatchFileContent when the room exists
	// but holds no file with the requested id.
	ErrFileNotFound = errors.New("file not found in room")
)

// Update is a partial room update. Nil pointers leave the stored field
// untouched; a non-nil pointer to an empty slice clears it.
type Update struct {
	Files    *[]models.FileSystemItem
	Elements *[]models.CanvasElement
	// Contents replaces the content of existing files, keyed by file id.
	// Ids that are not in the tree are skipped.
	Contents map[string]string
}

// Store provides access to the rooms collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new room store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Get returns the room document, or ErrRoomNotFound. Reading never creates.
func (s *Store) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.c.FindOne(ctx, bson.M{"room_id": roomID}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Upsert creates the room if absent (seeded with the default file and an
// empty canvas) and otherwise sets whichever fields the update carries.
// It returns the document as it is after the update.
func (s *Store) Upsert(ctx context.Context, roomID string, up Update) (*models.Room, error) {
	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	onInsert := bson.M{"created_at": now}

	if up.Files != nil {
		set["files"] = applyContents(*up.Files, up.Contents)
	} else {
		onInsert["files"] = models.DefaultFiles()
	}
	if up.Elements != nil {
		set["elements"] = nonNilElements(*up.Elements)
	} else {
		onInsert["elements"] = []models.CanvasElement{}
	}

	room, err := s.findOneAndUpsert(ctx, roomID, bson.M{"$set": set, "$setOnInsert": onInsert})
	if err != nil {
		return nil, err
	}

	// Content-only updates against the stored tree need a second, targeted
	// write: $setOnInsert of files and a positional set of files.$[] cannot
	// share one update document.
	if up.Files == nil && len(up.Contents) > 0 {
		return s.setContents(ctx, roomID, up.Contents)
	}
	return room, nil
}

// findOneAndUpsert runs an upserting FindOneAndUpdate and retries once if a
// concurrent insert for the same room won the unique index race.
func (s *Store) findOneAndUpsert(ctx context.Context, roomID string, update bson.M) (*models.Room, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var room models.Room
	err := s.c.FindOneAndUpdate(ctx, bson.M{"room_id": roomID}, update, opts).Decode(&room)
	if mongo.IsDuplicateKeyError(err) {
		room = models.Room{}
		err = s.c.FindOneAndUpdate(ctx, bson.M{"room_id": roomID}, update, opts).Decode(&room)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert room %q: %w", roomID, err)
	}
	return &room, nil
}

func (s *Store) setContents(ctx context.Context, roomID string, contents map[string]string) (*models.Room, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	filters := make([]interface{}, 0, len(contents))
	i := 0
	for id, content := range contents {
		ident := fmt.Sprintf("f%d", i)
		set["files.$["+ident+"].content"] = content
		filters = append(filters, bson.M{ident + ".id": id, ident + ".type": models.ItemFile})
		i++
	}

	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: filters}).
		SetReturnDocument(options.After)

	var room models.Room
	err := s.c.FindOneAndUpdate(ctx, bson.M{"room_id": roomID}, bson.M{"$set": set}, opts).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set contents in room %q: %w", roomID, err)
	}
	return &room, nil
}

// PatchFileContent replaces the content of one file in place with a single
// positional update, so concurrent structural writes to other files are not
// overwritten. When the room or file does not exist nothing is written and
// ErrRoomNotFound or ErrFileNotFound is returned. A folder id counts as a
// missing file.
func (s *Store) PatchFileContent(ctx context.Context, roomID, fileID, content string) (*models.Room, error) {
	filter := bson.M{
		"room_id": roomID,
		"files":   bson.M{"$elemMatch": bson.M{"id": fileID, "type": models.ItemFile}},
	}
	update := bson.M{"$set": bson.M{
		"files.$.content": content,
		"updated_at":      time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var room models.Room
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&room)
	if err == mongo.ErrNoDocuments {
		n, cerr := s.c.CountDocuments(ctx, bson.M{"room_id": roomID})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, ErrRoomNotFound
		}
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patch file %q in room %q: %w", fileID, roomID, err)
	}
	return &room, nil
}

// Delete removes a room. Deleting a missing room is not an error.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"room_id": roomID})
	return err
}

// DeleteIdleBefore removes rooms whose last update is older than cutoff and
// returns how many were removed.
func (s *Store) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// applyContents returns a copy of files with the given contents applied.
func applyContents(files []models.FileSystemItem, contents map[string]string) []models.FileSystemItem {
	out := make([]models.FileSystemItem, len(files))
	for i, f := range files {
		out[i] = f.Clone()
		if c, ok := contents[f.ID]; ok && !f.IsFolder() {
			out[i].Content = c
		}
	}
	return out
}

func nonNilElements(els []models.CanvasElement) []models.CanvasElement {
	if els == nil {
		return []models.CanvasElement{}
	}
	return els
}
