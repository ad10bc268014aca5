package gateway

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	roomstore "github.com/dalemusser/devsync/internal/app/store/rooms"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/domain/models"
	"go.uber.org/zap"
)

type queued struct {
	channel string
	event   string
	data    any
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []queued
}

func (p *recordingPublisher) Enqueue(channel, event string, data any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, queued{channel, event, data})
	return true
}

func (p *recordingPublisher) events() []queued {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queued(nil), p.got...)
}

type failingStore struct{ roomstore.Memory }

func (f *failingStore) Upsert(context.Context, string, roomstore.Update) (*models.Room, error) {
	return nil, errors.New("connection refused")
}

func newGateway(t *testing.T) (*Gateway, *roomstore.Memory, *recordingPublisher) {
	t.Helper()
	store := roomstore.NewMemory()
	pub := &recordingPublisher{}
	return New(store, pub, zap.NewNop(), Options{ValidateTree: true}), store, pub
}

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T, store *roomstore.Memory, roomID string, files ...models.FileSystemItem) {
	t.Helper()
	if _, err := store.Upsert(context.Background(), roomID, roomstore.Update{Files: &files}); err != nil {
		t.Fatalf("seed Upsert() error = %v", err)
	}
}

func TestDecode(t *testing.T) {
	tree := []models.FileSystemItem{{ID: "a", Name: "a.js", Type: models.ItemFile}}
	els := []models.CanvasElement{{ID: "e1", Tool: models.ToolCircle}}

	tests := []struct {
		name        string
		req         Request
		wantErr     error
		wantPatch   bool
		wantTree    bool
		wantCanvas  bool
		wantIgnored []string
	}{
		{"missing room", Request{Files: &tree}, ErrMissingRoomID, false, false, false, nil},
		{"blank room", Request{RoomID: "  ", Files: &tree}, ErrMissingRoomID, false, false, false, nil},
		{"empty", Request{RoomID: "r1"}, ErrEmptyMutation, false, false, false, nil},
		{"patch", Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("x")}, nil, true, false, false, nil},
		{"patch with empty content", Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("")}, nil, true, false, false, nil},
		{"patch wins", Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("x"), Files: &tree, Elements: &els}, nil, true, false, false, []string{FieldFiles, FieldElements}},
		{"tree", Request{RoomID: "r1", Files: &tree}, nil, false, true, false, nil},
		{"canvas", Request{RoomID: "r1", Elements: &els}, nil, false, false, true, nil},
		{"tree and canvas", Request{RoomID: "r1", Files: &tree, Elements: &els}, nil, false, true, true, nil},
		{"half pair", Request{RoomID: "r1", FileID: ptr("a"), Elements: &els}, nil, false, false, true, []string{FieldFileID}},
		{"half pair only", Request{RoomID: "r1", Content: ptr("x")}, ErrEmptyMutation, false, false, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.req, true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if m.IsPatch() != tt.wantPatch || (m.Tree != nil) != tt.wantTree || (m.Canvas != nil) != tt.wantCanvas {
				t.Errorf("Decode() = patch:%v tree:%v canvas:%v, want %v %v %v",
					m.IsPatch(), m.Tree != nil, m.Canvas != nil, tt.wantPatch, tt.wantTree, tt.wantCanvas)
			}
			if !reflect.DeepEqual(m.Ignored, tt.wantIgnored) {
				t.Errorf("Decode() ignored = %v, want %v", m.Ignored, tt.wantIgnored)
			}
		})
	}
}

func TestDecode_InvalidTree(t *testing.T) {
	bad := []models.FileSystemItem{
		{ID: "a", Name: "a.js", Type: models.ItemFile, ParentID: "ghost"},
	}
	if _, err := Decode(Request{RoomID: "r1", Files: &bad}, true); !errors.Is(err, ErrInvalidTree) {
		t.Errorf("Decode() error = %v, want ErrInvalidTree", err)
	}
	if _, err := Decode(Request{RoomID: "r1", Files: &bad}, false); err != nil {
		t.Errorf("Decode() without validation error = %v", err)
	}
}

func TestDecode_InvalidCanvas(t *testing.T) {
	tests := []struct {
		name string
		els  []models.CanvasElement
	}{
		{"empty tool", []models.CanvasElement{{ID: "e1"}}},
		{"unknown tool", []models.CanvasElement{{ID: "e1", Tool: models.ToolLine}, {ID: "e2", Tool: "spray"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(Request{RoomID: "r1", Elements: &tt.els}, true); !errors.Is(err, ErrInvalidCanvas) {
				t.Errorf("Decode() error = %v, want ErrInvalidCanvas", err)
			}
		})
	}

	// A content patch ignores elements, so they are not checked.
	bad := []models.CanvasElement{{ID: "e1"}}
	if _, err := Decode(Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("x"), Elements: &bad}, true); err != nil {
		t.Errorf("Decode() patch with ignored elements error = %v", err)
	}
}

func TestDecode_CanvasPointsNeverNil(t *testing.T) {
	els := []models.CanvasElement{{ID: "e1", Tool: models.ToolPencil}}
	m, err := Decode(Request{RoomID: "r1", Elements: &els}, true)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Canvas.Elements[0].Points == nil {
		t.Error("Decode() left a nil point list")
	}
	if els[0].Points != nil {
		t.Error("Decode() modified the request")
	}
}

func TestMutate_ContentPatch(t *testing.T) {
	g, store, pub := newGateway(t)
	ctx := context.Background()
	seed(t, store, "r1", models.FileSystemItem{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"})

	res, err := g.Mutate(ctx, Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("2"), WriteID: "w1"})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	want := []models.FileSystemItem{{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "2"}}
	if !reflect.DeepEqual(res.Room.Files, want) {
		t.Errorf("Mutate() files = %+v, want %+v", res.Room.Files, want)
	}
	if !reflect.DeepEqual(res.Applied, []string{FieldContent}) {
		t.Errorf("Mutate() applied = %v", res.Applied)
	}

	evs := pub.events()
	if len(evs) != 1 {
		t.Fatalf("queued %d broadcasts, want 1", len(evs))
	}
	if evs[0].channel != "room-r1" || evs[0].event != broadcast.EventFileContentChanged {
		t.Errorf("broadcast = %s/%s", evs[0].channel, evs[0].event)
	}
	wantEv := broadcast.FileContentChanged{FileID: "a", Content: "2", WriteID: "w1"}
	if evs[0].data != wantEv {
		t.Errorf("broadcast data = %+v, want %+v", evs[0].data, wantEv)
	}
}

func TestMutate_ContentPatchMissingFile(t *testing.T) {
	g, store, pub := newGateway(t)
	ctx := context.Background()
	seed(t, store, "r1", models.FileSystemItem{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"})

	res, err := g.Mutate(ctx, Request{RoomID: "r1", FileID: ptr("gone"), Content: ptr("2")})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if !res.NotFound {
		t.Error("Mutate() NotFound = false, want true")
	}
	if len(res.Room.Files) != 1 || res.Room.Files[0].Content != "1" {
		t.Errorf("room files changed: %+v", res.Room.Files)
	}
	if len(pub.events()) != 0 {
		t.Errorf("queued %d broadcasts, want none", len(pub.events()))
	}

	res, err = g.Mutate(ctx, Request{RoomID: "nobody", FileID: ptr("a"), Content: ptr("2")})
	if err != nil {
		t.Fatalf("Mutate() on missing room error = %v", err)
	}
	if !res.NotFound || res.Room != nil {
		t.Errorf("Mutate() on missing room = %+v, want NotFound with no room", res)
	}
	if _, err := g.Get(ctx, "nobody"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Errorf("patch must not create a room, Get() error = %v", err)
	}
}

func TestMutate_PatchIgnoresSiblings(t *testing.T) {
	g, store, pub := newGateway(t)
	ctx := context.Background()
	seed(t, store, "r1", models.FileSystemItem{ID: "a", Name: "x.js", Type: models.ItemFile, Content: "1"})

	other := []models.FileSystemItem{{ID: "b", Name: "b.js", Type: models.ItemFile}}
	res, err := g.Mutate(ctx, Request{RoomID: "r1", FileID: ptr("a"), Content: ptr("2"), Files: &other})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if !reflect.DeepEqual(res.Ignored, []string{FieldFiles}) {
		t.Errorf("Mutate() ignored = %v, want [files]", res.Ignored)
	}
	if len(res.Room.Files) != 1 || res.Room.Files[0].ID != "a" {
		t.Errorf("tree was replaced: %+v", res.Room.Files)
	}
	if n := len(pub.events()); n != 1 {
		t.Errorf("queued %d broadcasts, want 1", n)
	}
}

func TestMutate_TreeOnNewRoom(t *testing.T) {
	g, _, pub := newGateway(t)
	ctx := context.Background()

	tree := []models.FileSystemItem{{ID: "a", Name: "x.js", Type: models.ItemFile}}
	if _, err := g.Mutate(ctx, Request{RoomID: "r1", Files: &tree}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	room, err := g.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(room.Files, tree) {
		t.Errorf("Get() files = %+v, want %+v", room.Files, tree)
	}
	if room.Elements == nil || len(room.Elements) != 0 {
		t.Errorf("Get() elements = %#v, want []", room.Elements)
	}

	evs := pub.events()
	if len(evs) != 1 || evs[0].event != broadcast.EventFileTreeChanged {
		t.Fatalf("broadcasts = %+v, want one file-tree-changed", evs)
	}
}

func TestMutate_TreeAndCanvasTogether(t *testing.T) {
	g, _, pub := newGateway(t)

	tree := []models.FileSystemItem{{ID: "a", Name: "x.js", Type: models.ItemFile}}
	els := []models.CanvasElement{{ID: "e1", Tool: models.ToolRectangle, Color: "#fff", Width: 3}}
	res, err := g.Mutate(context.Background(), Request{RoomID: "r1", Files: &tree, Elements: &els})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if !reflect.DeepEqual(res.Applied, []string{FieldFiles, FieldElements}) {
		t.Errorf("Mutate() applied = %v", res.Applied)
	}

	evs := pub.events()
	if len(evs) != 2 || evs[0].event != broadcast.EventFileTreeChanged || evs[1].event != broadcast.EventCanvasChanged {
		t.Fatalf("broadcasts = %+v, want tree then canvas", evs)
	}
}

func TestMutate_EraseBroadcastsFullArray(t *testing.T) {
	g, _, pub := newGateway(t)
	ctx := context.Background()

	el := func(id string) models.CanvasElement {
		return models.CanvasElement{ID: id, Tool: models.ToolPencil, Points: []models.Point{}}
	}
	all := []models.CanvasElement{el("e1"), el("e2"), el("e3")}
	if _, err := g.Mutate(ctx, Request{RoomID: "r1", Elements: &all}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	remaining := []models.CanvasElement{el("e1"), el("e3")}
	if _, err := g.Mutate(ctx, Request{RoomID: "r1", Elements: &remaining}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	evs := pub.events()
	last := evs[len(evs)-1].data.(broadcast.CanvasChanged)
	if !reflect.DeepEqual(last.Elements, remaining) {
		t.Errorf("broadcast elements = %+v, want %+v", last.Elements, remaining)
	}

	// A late joiner sees the same array.
	room, err := g.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(room.Elements, remaining) {
		t.Errorf("Get() elements = %+v, want %+v", room.Elements, remaining)
	}
}

func TestMutate_ConcurrentTreeWritesConverge(t *testing.T) {
	g, _, _ := newGateway(t)
	ctx := context.Background()

	a := []models.FileSystemItem{{ID: "a", Name: "a.js", Type: models.ItemFile}}
	b := []models.FileSystemItem{{ID: "b", Name: "b.js", Type: models.ItemFile}, {ID: "c", Name: "c.js", Type: models.ItemFile}}

	var wg sync.WaitGroup
	for _, tree := range [][]models.FileSystemItem{a, b} {
		tree := tree
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Mutate(ctx, Request{RoomID: "r1", Files: &tree}); err != nil {
				t.Errorf("Mutate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	room, err := g.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(room.Files, a) && !reflect.DeepEqual(room.Files, b) {
		t.Errorf("Get() files = %+v, want exactly one of the writes", room.Files)
	}
}

func TestMutate_StoreFailure(t *testing.T) {
	pub := &recordingPublisher{}
	g := New(&failingStore{}, pub, zap.NewNop(), Options{})

	els := []models.CanvasElement{}
	if _, err := g.Mutate(context.Background(), Request{RoomID: "r1", Elements: &els}); err == nil {
		t.Fatal("Mutate() error = nil, want store failure")
	}
	if len(pub.events()) != 0 {
		t.Error("failed write must not broadcast")
	}
}

func TestGet(t *testing.T) {
	g, _, _ := newGateway(t)
	if _, err := g.Get(context.Background(), ""); !errors.Is(err, ErrMissingRoomID) {
		t.Errorf("Get(\"\") error = %v, want ErrMissingRoomID", err)
	}
	if _, err := g.Get(context.Background(), "fresh"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Errorf("Get(fresh) error = %v, want ErrRoomNotFound", err)
	}
}
