package roomstore

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/dalemusser/devsync/internal/testutil"
)

type roomStore interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Upsert(ctx context.Context, roomID string, up Update) (*models.Room, error)
	PatchFileContent(ctx context.Context, roomID, fileID, content string) (*models.Room, error)
	Delete(ctx context.Context, roomID string) error
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// backends runs fn once against MongoDB and once against the memory store.
func backends(t *testing.T, fn func(t *testing.T, s roomStore)) {
	t.Run("mongo", func(t *testing.T) {
		fn(t, New(testutil.SetupTestDB(t)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func files(items ...models.FileSystemItem) *[]models.FileSystemItem {
	if items == nil {
		items = []models.FileSystemItem{}
	}
	return &items
}

func elements(els ...models.CanvasElement) *[]models.CanvasElement {
	if els == nil {
		els = []models.CanvasElement{}
	}
	return &els
}

func TestStore_Get_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		_, err := s.Get(ctx, "never-written")
		if !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("Get() error = %v, want ErrRoomNotFound", err)
		}

		// Reading must not create the room.
		_, err = s.Get(ctx, "never-written")
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("second Get() error = %v, want ErrRoomNotFound", err)
		}
	})
}

func TestStore_Upsert_SeedsDefaults(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		els := []models.CanvasElement{{ID: "e1", Tool: models.ToolLine, Points: []models.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, Color: "#000", Width: 2}}
		room, err := s.Upsert(ctx, "r1", Update{Elements: &els})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if !reflect.DeepEqual(room.Files, models.DefaultFiles()) {
			t.Errorf("Upsert() files = %+v, want default seed", room.Files)
		}
		if len(room.Elements) != 1 || room.Elements[0].ID != "e1" {
			t.Errorf("Upsert() elements = %+v, want [e1]", room.Elements)
		}
		if room.UpdatedAt.IsZero() || room.CreatedAt.IsZero() {
			t.Error("Upsert() should set created/updated timestamps")
		}
	})
}

func TestStore_Upsert_FilesOnNewRoom(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		want := []models.FileSystemItem{{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"}}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(want...)}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := s.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !reflect.DeepEqual(got.Files, want) {
			t.Errorf("Get() files = %+v, want %+v", got.Files, want)
		}
		if len(got.Elements) != 0 {
			t.Errorf("Get() elements = %#v, want empty", got.Elements)
		}
	})
}

func TestStore_Upsert_Idempotent(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		tree := []models.FileSystemItem{
			{ID: "d", Name: "src", Type: models.ItemFolder, Children: []string{"f"}},
			{ID: "f", Name: "main.go", Type: models.ItemFile, Content: "package main", ParentID: "d"},
		}
		first, err := s.Upsert(ctx, "r1", Update{Files: files(tree...)})
		if err != nil {
			t.Fatalf("first Upsert() error = %v", err)
		}
		second, err := s.Upsert(ctx, "r1", Update{Files: files(tree...)})
		if err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}
		if !reflect.DeepEqual(first.Files, second.Files) {
			t.Errorf("repeated Upsert() files differ: %+v vs %+v", first.Files, second.Files)
		}
		if !first.CreatedAt.Equal(second.CreatedAt) {
			t.Error("repeated Upsert() should keep created_at")
		}
	})
}

func TestStore_Upsert_ShallowMerge(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		tree := []models.FileSystemItem{{ID: "a", Name: "a.js", Type: models.ItemFile, Content: "1"}}
		els := []models.CanvasElement{{ID: "e1", Tool: models.ToolPencil, Color: "red", Width: 1}}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(tree...), Elements: &els}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		// Canvas-only update leaves the tree alone.
		room, err := s.Upsert(ctx, "r1", Update{Elements: elements()})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if len(room.Elements) != 0 {
			t.Errorf("elements = %+v, want cleared", room.Elements)
		}
		if len(room.Files) != 1 || room.Files[0].Content != "1" {
			t.Errorf("files = %+v, want untouched", room.Files)
		}

		// Content map applies to existing files only.
		room, err = s.Upsert(ctx, "r1", Update{Contents: map[string]string{"a": "2", "ghost": "x"}})
		if err != nil {
			t.Fatalf("Upsert() contents error = %v", err)
		}
		if len(room.Files) != 1 || room.Files[0].Content != "2" {
			t.Errorf("files = %+v, want content 2 and no new file", room.Files)
		}
	})
}

func TestStore_PatchFileContent(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		tree := []models.FileSystemItem{
			{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"},
			{ID: "b", Name: "y.js", Type: models.ItemFile, Content: "keep"},
		}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(tree...)}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		room, err := s.PatchFileContent(ctx, "r1", "a", "2")
		if err != nil {
			t.Fatalf("PatchFileContent() error = %v", err)
		}
		want := []models.FileSystemItem{
			{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "2"},
			{ID: "b", Name: "y.js", Type: models.ItemFile, Content: "keep"},
		}
		if !reflect.DeepEqual(room.Files, want) {
			t.Errorf("PatchFileContent() files = %+v, want %+v", room.Files, want)
		}
	})
}

func TestStore_PatchFileContent_MissingFile(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		tree := []models.FileSystemItem{{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"}}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(tree...)}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		_, err := s.PatchFileContent(ctx, "r1", "zzz", "boom")
		if !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("PatchFileContent() error = %v, want ErrFileNotFound", err)
		}

		got, err := s.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !reflect.DeepEqual(got.Files, tree) {
			t.Errorf("files after failed patch = %+v, want %+v", got.Files, tree)
		}

		_, err = s.PatchFileContent(ctx, "nope", "a", "x")
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("PatchFileContent() on missing room error = %v, want ErrRoomNotFound", err)
		}
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("patch on missing room must not create it, Get() error = %v", err)
		}
	})
}

func TestStore_PatchFileContent_Folder(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		tree := []models.FileSystemItem{
			{ID: "src", Name: "src", Type: models.ItemFolder, Children: []string{"a"}},
			{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1", ParentID: "src"},
		}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(tree...)}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		if _, err := s.PatchFileContent(ctx, "r1", "src", "oops"); !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("PatchFileContent(folder) error = %v, want ErrFileNotFound", err)
		}
		room, err := s.Upsert(ctx, "r1", Update{Contents: map[string]string{"src": "oops", "a": "2"}})
		if err != nil {
			t.Fatalf("Upsert() contents error = %v", err)
		}
		want := []models.FileSystemItem{
			{ID: "src", Name: "src", Type: models.ItemFolder, Children: []string{"a"}},
			{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "2", ParentID: "src"},
		}
		if !reflect.DeepEqual(room.Files, want) {
			t.Errorf("files = %+v, want folder without content", room.Files)
		}
	})
}

func TestStore_LastWriteWins(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		a := []models.FileSystemItem{{ID: "a", Name: "a.js", Type: models.ItemFile}}
		b := []models.FileSystemItem{{ID: "b", Name: "b.js", Type: models.ItemFile}}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(a...)}); err != nil {
			t.Fatalf("Upsert(a) error = %v", err)
		}
		if _, err := s.Upsert(ctx, "r1", Update{Files: files(b...)}); err != nil {
			t.Fatalf("Upsert(b) error = %v", err)
		}
		got, err := s.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !reflect.DeepEqual(got.Files, b) {
			t.Errorf("Get() files = %+v, want last write %+v", got.Files, b)
		}
	})
}

func TestStore_DeleteIdleBefore(t *testing.T) {
	backends(t, func(t *testing.T, s roomStore) {
		ctx, cancel := testutil.TestContext()
		defer cancel()

		if _, err := s.Upsert(ctx, "old", Update{}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		cutoff := time.Now().UTC().Add(time.Second)

		n, err := s.DeleteIdleBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("DeleteIdleBefore() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteIdleBefore() = %d, want 1", n)
		}
		if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Get() after prune error = %v, want ErrRoomNotFound", err)
		}

		if err := s.Delete(ctx, "missing"); err != nil {
			t.Errorf("Delete() of missing room error = %v", err)
		}
	})
}
