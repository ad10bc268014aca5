package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/devsync/internal/app/features/roomapi"
	roomstore "github.com/dalemusser/devsync/internal/app/store/rooms"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"github.com/dalemusser/devsync/internal/domain/filetree"
	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/dalemusser/devsync/internal/testutil"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

// fakeGateway runs mutations through a real gateway over the memory store
// and records what the reconciler sent.
type fakeGateway struct {
	store *roomstore.Memory
	rec   *testutil.Recorder
	gw    *gateway.Gateway

	mu   sync.Mutex
	reqs []gateway.Request
	fail error
	hold chan struct{}
	// ackHold delays the response after the write has been persisted.
	ackHold chan struct{}
}

func newFakeGateway() *fakeGateway {
	store := roomstore.NewMemory()
	rec := &testutil.Recorder{}
	return &fakeGateway{
		store: store,
		rec:   rec,
		gw:    gateway.New(store, rec, zap.NewNop(), gateway.Options{ValidateTree: true}),
	}
}

func (f *fakeGateway) Get(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := f.gw.Get(ctx, roomID)
	if errors.Is(err, roomstore.ErrRoomNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

func (f *fakeGateway) Mutate(ctx context.Context, req gateway.Request) (*roomapi.SaveResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	fail, hold, ackHold := f.fail, f.hold, f.ackHold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	res, err := f.gw.Mutate(ctx, req)
	if err != nil {
		return nil, err
	}
	if ackHold != nil {
		select {
		case <-ackHold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &roomapi.SaveResponse{
		Success:  true,
		Room:     res.Room,
		Applied:  res.Applied,
		Ignored:  res.Ignored,
		NotFound: res.NotFound,
	}, nil
}

func (f *fakeGateway) requests() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Request(nil), f.reqs...)
}

func (f *fakeGateway) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeGateway) release(ch *chan struct{}) {
	f.mu.Lock()
	close(*ch)
	*ch = nil
	f.mu.Unlock()
}

// peerWrite persists a write from another participant and returns its
// broadcast.
func (f *fakeGateway) peerWrite(t *testing.T, req gateway.Request) Event {
	t.Helper()
	req.WriteID = "peer-" + t.Name()
	if _, err := f.gw.Mutate(context.Background(), req); err != nil {
		t.Fatalf("peer Mutate() error = %v", err)
	}
	for _, e := range f.rec.Events() {
		if writeIDOf(e.Data) == req.WriteID {
			return toEvent(t, e)
		}
	}
	t.Fatal("peer write was not broadcast")
	return Event{}
}

// broadcasts returns every recorded room event in publish order.
func (f *fakeGateway) broadcasts(t *testing.T) []Event {
	t.Helper()
	var out []Event
	for _, e := range f.rec.Events() {
		out = append(out, toEvent(t, e))
	}
	return out
}

func writeIDOf(data any) string {
	switch p := data.(type) {
	case broadcast.FileTreeChanged:
		return p.WriteID
	case broadcast.FileContentChanged:
		return p.WriteID
	case broadcast.CanvasChanged:
		return p.WriteID
	}
	return ""
}

func (f *fakeGateway) seed(t *testing.T, roomID string) {
	t.Helper()
	if _, err := f.store.Upsert(context.Background(), roomID, roomstore.Update{}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func (f *fakeGateway) stored(t *testing.T, roomID string) *models.Room {
	t.Helper()
	room, err := f.store.Get(context.Background(), roomID)
	if err != nil {
		t.Fatalf("store Get(%q) error = %v", roomID, err)
	}
	return room
}

type chanSource chan Event

func (c chanSource) Events() <-chan Event { return c }

func startReconciler(t *testing.T, gw Gateway, roomID string, opts Options, src Source) *Reconciler {
	t.Helper()
	r := NewReconciler(roomID, gw, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Start(ctx, src); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func flush(t *testing.T, r *Reconciler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func toEvent(t *testing.T, e testutil.Event) Event {
	t.Helper()
	raw, err := json.Marshal(e.Data)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return Event{Channel: e.Channel, Event: e.Event, Data: raw}
}

func roomEvent(t *testing.T, roomID, event string, data any) Event {
	t.Helper()
	return toEvent(t, testutil.Event{Channel: broadcast.RoomChannel(roomID), Event: event, Data: data})
}

func contentOf(t *testing.T, files []models.FileSystemItem, id string) string {
	t.Helper()
	f, ok := filetree.Find(files, id)
	if !ok {
		t.Fatalf("file %q not found", id)
	}
	return f.Content
}

func TestStart_NewRoomSeedsDefaultFile(t *testing.T) {
	f := newFakeGateway()
	r := startReconciler(t, f, "r1", Options{}, nil)

	snap := r.Snapshot()
	assert.Equal(t, snap.RoomID, "r1")
	assert.Equal(t, snap.Files, models.DefaultFiles())
	assert.Equal(t, len(snap.Elements), 0)
	assert.Equal(t, snap.State, StateIdle)
	assert.Equal(t, snap.Status, SaveSaved)

	if _, err := f.store.Get(context.Background(), "r1"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Errorf("Start() created the room, store Get() error = %v", err)
	}
}

func TestStart_LoadsExistingRoom(t *testing.T) {
	f := newFakeGateway()
	files, _ := filetree.CreateFile(models.DefaultFiles(), "f2", "main.go", "")
	if _, err := f.store.Upsert(context.Background(), "r1", roomstore.Update{Files: &files}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := startReconciler(t, f, "r1", Options{}, nil)
	snap := r.Snapshot()
	if len(snap.Files) != 2 {
		t.Fatalf("Snapshot().Files len = %d, want 2", len(snap.Files))
	}
	if _, ok := filetree.Find(snap.Files, "f2"); !ok {
		t.Error("Snapshot() missing main.go")
	}
}

func TestStart_GatewayError(t *testing.T) {
	r := NewReconciler("r1", failingGet{}, Options{})
	if err := r.Start(context.Background(), nil); err == nil {
		t.Fatal("Start() expected error")
	}
	if err := r.EditContent(models.DefaultFileID, "x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("EditContent() error = %v, want ErrNotStarted", err)
	}
}

type failingGet struct{ Gateway }

func (failingGet) Get(context.Context, string) (*models.Room, error) {
	return nil, errors.New("connection refused")
}

func TestEditContent_DebouncesPerFile(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{ContentDebounce: 40 * time.Millisecond}, nil)

	for _, c := range []string{"a", "ab", "abc"} {
		if err := r.EditContent(models.DefaultFileID, c); err != nil {
			t.Fatalf("EditContent() error = %v", err)
		}
	}
	assert.Equal(t, r.State(), StatePendingLocal)
	assert.Equal(t, len(f.requests()), 0)

	eventually(t, "debounced write", func() bool { return r.State() == StateIdle && len(f.requests()) > 0 })

	reqs := f.requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d writes, want 1", len(reqs))
	}
	if reqs[0].FileID == nil || *reqs[0].FileID != models.DefaultFileID || *reqs[0].Content != "abc" {
		t.Errorf("write = %+v, want content patch of %q", reqs[0], "abc")
	}
	if reqs[0].WriteID == "" {
		t.Error("write has no writeId")
	}
	assert.Equal(t, contentOf(t, f.stored(t, "r1").Files, models.DefaultFileID), "abc")
	assert.Equal(t, r.Snapshot().Status, SaveSaved)
}

func TestEditContent_UnknownFile(t *testing.T) {
	f := newFakeGateway()
	r := startReconciler(t, f, "r1", Options{}, nil)
	if err := r.EditContent("nope", "x"); !errors.Is(err, filetree.ErrNotFound) {
		t.Errorf("EditContent() error = %v, want ErrNotFound", err)
	}
	assert.Equal(t, r.State(), StateIdle)
}

func TestEditContent_NewRoomSendsTree(t *testing.T) {
	f := newFakeGateway()
	r := startReconciler(t, f, "r1", Options{ContentDebounce: time.Hour}, nil)

	if err := r.EditContent(models.DefaultFileID, "first"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}
	flush(t, r)

	if err := r.EditContent(models.DefaultFileID, "second"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}
	flush(t, r)

	reqs := f.requests()
	if len(reqs) != 2 {
		t.Fatalf("sent %d writes, want 2", len(reqs))
	}
	if reqs[0].Files == nil || reqs[0].FileID != nil {
		t.Errorf("first write = %+v, want a tree write", reqs[0])
	}
	if reqs[1].FileID == nil {
		t.Errorf("second write = %+v, want a content patch", reqs[1])
	}
	assert.Equal(t, contentOf(t, f.stored(t, "r1").Files, models.DefaultFileID), "second")
}

func TestStructuralEditFoldsPendingContent(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{ContentDebounce: time.Hour}, nil)

	if err := r.EditContent(models.DefaultFileID, "typed"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}
	id, err := r.CreateFile("", "util.js")
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	flush(t, r)

	reqs := f.requests()
	if len(reqs) != 1 || reqs[0].Files == nil {
		t.Fatalf("writes = %+v, want a single tree write", reqs)
	}
	stored := f.stored(t, "r1")
	assert.Equal(t, contentOf(t, stored.Files, models.DefaultFileID), "typed")
	if _, ok := filetree.Find(stored.Files, id); !ok {
		t.Error("stored tree missing util.js")
	}
	assert.Equal(t, r.State(), StateIdle)
}

func TestEditsReachServerInOrder(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{}, nil)

	folder, err := r.CreateFolder("", "src")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	file, err := r.CreateFile(folder, "app.js")
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := r.Rename(file, "main.js"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := r.Move(file, ""); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if err := r.Delete(folder); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Move(file, file); err == nil {
		t.Error("Move() into itself expected error")
	}
	flush(t, r)

	assert.Equal(t, len(f.requests()), 5)

	stored := f.stored(t, "r1")
	if _, ok := filetree.Find(stored.Files, folder); ok {
		t.Error("stored tree still has deleted folder")
	}
	got, ok := filetree.Find(stored.Files, file)
	if !ok {
		t.Fatal("stored tree missing main.js")
	}
	assert.Equal(t, got.Name, "main.js")
	assert.Equal(t, got.ParentID, "")
	if err := filetree.Validate(stored.Files); err != nil {
		t.Errorf("stored tree invalid: %v", err)
	}
	assert.Equal(t, len(r.Snapshot().Files), len(stored.Files))
}

func TestOwnEchoIgnored(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{}, nil)

	id, err := r.CreateFile("", "a.txt")
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	flush(t, r)
	echo := f.rec.Events()
	if len(echo) != 1 || echo[0].Event != broadcast.EventFileTreeChanged {
		t.Fatalf("broadcasts = %+v, want one file-tree-changed", echo)
	}

	if err := r.Rename(id, "b.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	flush(t, r)

	// The late echo of our first write must not roll back the rename.
	r.Apply(toEvent(t, echo[0]))
	got, _ := filetree.Find(r.Snapshot().Files, id)
	assert.Equal(t, got.Name, "b.txt")

	// A peer's tree is taken as is.
	r.Apply(roomEvent(t, "r1", broadcast.EventFileTreeChanged, broadcast.FileTreeChanged{
		Files:   models.DefaultFiles(),
		WriteID: "peer-write",
	}))
	assert.Equal(t, r.Snapshot().Files, models.DefaultFiles())
}

func TestRemoteEventsRespectLocalContent(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{ContentDebounce: time.Hour}, nil)

	if err := r.EditContent(models.DefaultFileID, "mine"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}

	r.Apply(roomEvent(t, "r1", broadcast.EventFileContentChanged, broadcast.FileContentChanged{
		FileID: models.DefaultFileID, Content: "theirs", WriteID: "peer",
	}))
	assert.Equal(t, contentOf(t, r.Snapshot().Files, models.DefaultFileID), "mine")

	peerTree, _ := filetree.CreateFile(models.DefaultFiles(), "p1", "peer.js", "")
	r.Apply(roomEvent(t, "r1", broadcast.EventFileTreeChanged, broadcast.FileTreeChanged{
		Files: peerTree, WriteID: "peer",
	}))
	snap := r.Snapshot()
	assert.Equal(t, len(snap.Files), 2)
	assert.Equal(t, contentOf(t, snap.Files, models.DefaultFileID), "mine")

	r.Apply(roomEvent(t, "r1", broadcast.EventFileContentChanged, broadcast.FileContentChanged{
		FileID: "p1", Content: "hello", WriteID: "peer",
	}))
	assert.Equal(t, contentOf(t, r.Snapshot().Files, "p1"), "hello")

	r.Apply(roomEvent(t, "r1", broadcast.EventCanvasChanged, broadcast.CanvasChanged{
		Elements: []models.CanvasElement{{ID: "e1", Tool: models.ToolLine, Points: []models.Point{{X: 1, Y: 2}}}},
		WriteID:  "peer",
	}))
	assert.Equal(t, len(r.Snapshot().Elements), 1)

	flush(t, r)
	assert.Equal(t, contentOf(t, f.stored(t, "r1").Files, models.DefaultFileID), "mine")
}

func TestRemoteTreeDropsEditsToDeletedFiles(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{ContentDebounce: time.Hour}, nil)

	if err := r.EditContent(models.DefaultFileID, "mine"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}
	r.Apply(roomEvent(t, "r1", broadcast.EventFileTreeChanged, broadcast.FileTreeChanged{
		Files: []models.FileSystemItem{}, WriteID: "peer",
	}))

	assert.Equal(t, len(r.Snapshot().Files), 0)
	assert.Equal(t, r.State(), StateIdle)
	flush(t, r)
	assert.Equal(t, len(f.requests()), 0)
}

func TestPatchOnRemotelyDeletedFile(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{ContentDebounce: time.Hour}, nil)

	if err := r.EditContent(models.DefaultFileID, "mine"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}

	// A peer empties the tree; its broadcast has not reached us yet.
	empty := []models.FileSystemItem{}
	if _, err := f.gw.Mutate(context.Background(), gateway.Request{RoomID: "r1", Files: &empty}); err != nil {
		t.Fatalf("peer Mutate() error = %v", err)
	}
	flush(t, r)

	snap := r.Snapshot()
	assert.Equal(t, len(snap.Files), 0)
	assert.Equal(t, snap.Status, SaveSaved)
	assert.Equal(t, snap.LastError, nil)
}

func TestCanvasEdits(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{}, nil)

	if _, err := r.AddElement("spray", nil, "#000", 1); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("AddElement(spray) error = %v, want ErrInvalidTool", err)
	}

	pts := []models.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	first, err := r.AddElement(models.ToolRectangle, pts, "#ff0000", 2)
	if err != nil {
		t.Fatalf("AddElement() error = %v", err)
	}
	pts[0].X = 99 // caller's slice is copied
	if _, err := r.AddElement(models.ToolCircle, pts, "#00ff00", 1); err != nil {
		t.Fatalf("AddElement() error = %v", err)
	}
	if err := r.EraseElement("missing"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("EraseElement() error = %v, want ErrElementNotFound", err)
	}
	if err := r.EraseElement(first); err != nil {
		t.Fatalf("EraseElement() error = %v", err)
	}
	flush(t, r)

	stored := f.stored(t, "r1")
	if len(stored.Elements) != 1 || stored.Elements[0].Tool != models.ToolCircle {
		t.Fatalf("stored elements = %+v, want the circle", stored.Elements)
	}

	if err := r.ClearCanvas(); err != nil {
		t.Fatalf("ClearCanvas() error = %v", err)
	}
	flush(t, r)
	assert.Equal(t, len(f.stored(t, "r1").Elements), 0)
	assert.Equal(t, len(f.requests()), 4)
	assert.Equal(t, len(r.Snapshot().Elements), 0)
}

func TestCanvasAddKeepsFirstPoints(t *testing.T) {
	f := newFakeGateway()
	r := startReconciler(t, f, "r1", Options{}, nil)

	pts := []models.Point{{X: 1, Y: 1}}
	if _, err := r.AddElement(models.ToolPencil, pts, "#000", 1); err != nil {
		t.Fatalf("AddElement() error = %v", err)
	}
	pts[0].X = 42
	assert.Equal(t, r.Snapshot().Elements[0].Points[0].X, float64(1))
}

func TestWriteFailureKeepsLocalEdit(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{}, nil)

	f.setFail(errors.New("boom"))
	id, err := r.CreateFile("", "lost.txt")
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	flush(t, r)

	snap := r.Snapshot()
	assert.Equal(t, snap.Status, SaveFailed)
	if snap.LastError == nil {
		t.Error("LastError = nil, want the write error")
	}
	if _, ok := filetree.Find(snap.Files, id); !ok {
		t.Error("local view lost the failed edit")
	}
	assert.Equal(t, snap.State, StateIdle)

	f.setFail(nil)
	if err := r.Rename(id, "kept.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	flush(t, r)

	snap = r.Snapshot()
	assert.Equal(t, snap.Status, SaveSaved)
	assert.Equal(t, snap.LastError, nil)
	got, ok := filetree.Find(f.stored(t, "r1").Files, id)
	if !ok || got.Name != "kept.txt" {
		t.Errorf("stored item = %+v, %v, want kept.txt", got, ok)
	}
}

func TestAwaitingAck(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	f.hold = make(chan struct{})
	r := startReconciler(t, f, "r1", Options{}, nil)

	id, err := r.CreateFile("", "slow.txt")
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	eventually(t, "write in flight", func() bool { return r.State() == StateAwaitingAck })
	assert.Equal(t, r.Snapshot().Status, SaveSaving)

	// A peer tree arriving while our own tree write is unacknowledged is
	// not applied over the optimistic view.
	r.Apply(roomEvent(t, "r1", broadcast.EventFileTreeChanged, broadcast.FileTreeChanged{
		Files: models.DefaultFiles(), WriteID: "peer",
	}))
	if _, ok := filetree.Find(r.Snapshot().Files, id); !ok {
		t.Error("peer tree overwrote unacknowledged local tree")
	}

	f.mu.Lock()
	close(f.hold)
	f.hold = nil
	f.mu.Unlock()
	flush(t, r)
	assert.Equal(t, r.State(), StateIdle)
	assert.Equal(t, r.Snapshot().Status, SaveSaved)
}

func TestPresence(t *testing.T) {
	f := newFakeGateway()
	r := startReconciler(t, f, "r1", Options{}, nil)
	presence := broadcast.PresenceChannel("r1")

	member := func(id string) broadcast.Member {
		return broadcast.Member{UserID: id, UserInfo: broadcast.MemberInfo{Name: id}}
	}
	apply := func(event string, data any) {
		r.Apply(toEvent(t, testutil.Event{Channel: presence, Event: event, Data: data}))
	}
	ids := func() []string {
		var out []string
		for _, m := range r.Snapshot().Members {
			out = append(out, m.UserID)
		}
		return out
	}

	apply(broadcast.EventSubscriptionSucceeded, broadcast.PresenceSnapshot{
		Me:      member("b"),
		Members: []broadcast.Member{member("b"), member("a")},
		Count:   2,
	})
	assert.Equal(t, ids(), []string{"a", "b"})

	apply(broadcast.EventMemberAdded, member("c"))
	apply(broadcast.EventMemberRemoved, member("a"))
	assert.Equal(t, ids(), []string{"b", "c"})

	apply(broadcast.EventSubscriptionError, map[string]string{"error": "denied"})
	assert.Equal(t, ids(), []string{"b", "c"})

	// Other rooms are ignored.
	r.Apply(toEvent(t, testutil.Event{Channel: broadcast.PresenceChannel("r2"), Event: broadcast.EventMemberAdded, Data: member("z")}))
	assert.Equal(t, len(ids()), 2)
}

func TestEventLoopAppliesSourceEvents(t *testing.T) {
	f := newFakeGateway()
	src := make(chanSource, 4)
	r := startReconciler(t, f, "r1", Options{}, src)

	<-r.Changes() // initial load
	src <- roomEvent(t, "r1", broadcast.EventCanvasChanged, broadcast.CanvasChanged{
		Elements: []models.CanvasElement{{ID: "e1", Tool: models.ToolPencil}},
		WriteID:  "peer",
	})

	select {
	case <-r.Changes():
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal after event")
	}
	eventually(t, "canvas applied", func() bool { return len(r.Snapshot().Elements) == 1 })

	// Malformed payloads are skipped.
	src <- Event{Channel: broadcast.RoomChannel("r1"), Event: broadcast.EventCanvasChanged, Data: json.RawMessage(`{"elements":7}`)}
	close(src)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, len(r.Snapshot().Elements), 1)
}

func TestTrackedWritesBounded(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	r := startReconciler(t, f, "r1", Options{TrackedWrites: 2}, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.AddElement(models.ToolLine, nil, "#000", 1); err != nil {
			t.Fatalf("AddElement() error = %v", err)
		}
	}
	flush(t, r)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, len(r.own), 2)
	assert.Equal(t, len(r.ownOrder), 2)
	first := f.requests()[0].WriteID
	if r.isOwnLocked(first) {
		t.Error("oldest write id still tracked")
	}
}

func TestLifecycle(t *testing.T) {
	f := newFakeGateway()
	r := NewReconciler("r1", f, Options{ContentDebounce: time.Hour})

	if err := r.Flush(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Flush() before Start error = %v, want ErrNotStarted", err)
	}
	if err := r.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(context.Background(), nil); err == nil {
		t.Error("second Start() expected error")
	}

	if err := r.EditContent(models.DefaultFileID, "bye"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assert.Equal(t, contentOf(t, f.stored(t, "r1").Files, models.DefaultFileID), "bye")

	if err := r.EditContent(models.DefaultFileID, "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("EditContent() after Close error = %v, want ErrClosed", err)
	}
	if _, err := r.CreateFile("", "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateFile() after Close error = %v, want ErrClosed", err)
	}
	if err := r.ClearCanvas(); !errors.Is(err, ErrClosed) {
		t.Errorf("ClearCanvas() after Close error = %v, want ErrClosed", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, StateIdle.String(), "idle")
	assert.Equal(t, StatePendingLocal.String(), "pending-local")
	assert.Equal(t, StateAwaitingAck.String(), "awaiting-ack")
	assert.Equal(t, SaveSaved.String(), "saved")
	assert.Equal(t, SaveSaving.String(), "saving")
	assert.Equal(t, SaveFailed.String(), "failed")
}

func TestAckDoesNotOverwriteLaterPeerTree(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	f.ackHold = make(chan struct{})
	r := startReconciler(t, f, "r1", Options{ContentDebounce: 10 * time.Millisecond}, nil)

	if err := r.EditContent(models.DefaultFileID, "mine"); err != nil {
		t.Fatalf("EditContent() error = %v", err)
	}
	eventually(t, "patch persisted", func() bool {
		return contentOf(t, f.stored(t, "r1").Files, models.DefaultFileID) == "mine"
	})

	// A peer adds a file after our patch landed but before its response.
	peerTree, _ := filetree.CreateFile(f.stored(t, "r1").Files, "p1", "peer.js", "")
	r.Apply(f.peerWrite(t, gateway.Request{RoomID: "r1", Files: &peerTree}))

	f.release(&f.ackHold)
	flush(t, r)

	stored := f.stored(t, "r1")
	snap := r.Snapshot()
	assert.Equal(t, len(snap.Files), len(stored.Files))
	assert.Equal(t, len(snap.Files), 2)
	assert.Equal(t, contentOf(t, snap.Files, models.DefaultFileID), "mine")
}

func TestAckDoesNotOverwriteLaterPeerCanvas(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	f.ackHold = make(chan struct{})
	r := startReconciler(t, f, "r1", Options{}, nil)

	if _, err := r.AddElement(models.ToolLine, nil, "#000", 1); err != nil {
		t.Fatalf("AddElement() error = %v", err)
	}
	eventually(t, "canvas persisted", func() bool { return len(f.stored(t, "r1").Elements) == 1 })

	els := append(f.stored(t, "r1").Elements,
		models.CanvasElement{ID: "p1", Tool: models.ToolPencil},
		models.CanvasElement{ID: "p2", Tool: models.ToolCircle})
	r.Apply(f.peerWrite(t, gateway.Request{RoomID: "r1", Elements: &els}))

	f.release(&f.ackHold)
	flush(t, r)

	assert.Equal(t, len(f.stored(t, "r1").Elements), 3)
	assert.Equal(t, len(r.Snapshot().Elements), 3)
}

func TestEchoOrderDecidesConcurrentWrites(t *testing.T) {
	tests := []struct {
		name      string
		peerFirst bool
		want      int
	}{
		{"peer persisted first", true, 1},
		{"peer persisted last", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGateway()
			f.seed(t, "r1")
			src := make(chanSource, 8)
			r := startReconciler(t, f, "r1", Options{EchoTimeout: time.Minute}, src)

			peerEls := []models.CanvasElement{
				{ID: "p1", Tool: models.ToolPencil},
				{ID: "p2", Tool: models.ToolPencil},
				{ID: "p3", Tool: models.ToolPencil},
			}
			if tt.peerFirst {
				f.peerWrite(t, gateway.Request{RoomID: "r1", Elements: &peerEls})
			}
			if _, err := r.AddElement(models.ToolLine, nil, "#000", 1); err != nil {
				t.Fatalf("AddElement() error = %v", err)
			}
			flush(t, r)
			if !tt.peerFirst {
				f.peerWrite(t, gateway.Request{RoomID: "r1", Elements: &peerEls})
			}

			// Broadcasts arrive in the order the server persisted.
			events := f.broadcasts(t)
			assert.Equal(t, len(events), 2)
			src <- events[0]
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, len(r.Snapshot().Elements), 1)

			src <- events[1]
			eventually(t, "view matches the store", func() bool {
				return len(r.Snapshot().Elements) == len(f.stored(t, "r1").Elements)
			})
			assert.Equal(t, len(r.Snapshot().Elements), tt.want)
		})
	}
}

func TestEchoTimeoutReleasesDeferredEvents(t *testing.T) {
	f := newFakeGateway()
	f.seed(t, "r1")
	src := make(chanSource, 4)
	r := startReconciler(t, f, "r1", Options{EchoTimeout: 30 * time.Millisecond}, src)

	if _, err := r.AddElement(models.ToolLine, nil, "#000", 1); err != nil {
		t.Fatalf("AddElement() error = %v", err)
	}
	flush(t, r)

	// Our echo is lost; only the peer's later write arrives.
	peerEls := []models.CanvasElement{{ID: "p1", Tool: models.ToolPencil}, {ID: "p2", Tool: models.ToolPencil}}
	src <- f.peerWrite(t, gateway.Request{RoomID: "r1", Elements: &peerEls})

	eventually(t, "peer canvas applied", func() bool { return len(r.Snapshot().Elements) == 2 })
}
