package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dalemusser/devsync/internal/app/features/roomapi"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"github.com/dalemusser/devsync/internal/domain/filetree"
	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultContentDebounce is how long keystrokes in one file are coalesced
// before they are sent.
const DefaultContentDebounce = time.Second

const (
	defaultTrackedWrites  = 256
	defaultRequestTimeout = 10 * time.Second
	defaultEchoTimeout    = 5 * time.Second
)

var (
	// ErrClosed is returned by edits after Close.
	ErrClosed = errors.New("reconciler closed")
	// ErrNotStarted is returned by edits before Start.
	ErrNotStarted = errors.New("reconciler not started")
	// ErrElementNotFound is returned by EraseElement for an unknown id.
	ErrElementNotFound = errors.New("canvas element not found")
	// ErrInvalidTool is returned by AddElement for an unknown drawing tool.
	ErrInvalidTool = errors.New("unknown drawing tool")
)

// State is the position of the write pipeline.
type State int

const (
	// StateIdle means every local edit has been acknowledged or failed.
	StateIdle State = iota
	// StatePendingLocal means edits are waiting on a debounce timer or in
	// the send queue.
	StatePendingLocal
	// StateAwaitingAck means a mutation is in flight.
	StateAwaitingAck
)

func (s State) String() string {
	switch s {
	case StatePendingLocal:
		return "pending-local"
	case StateAwaitingAck:
		return "awaiting-ack"
	default:
		return "idle"
	}
}

// SaveStatus is the indicator a UI shows for the room.
type SaveStatus int

const (
	SaveSaved SaveStatus = iota
	SaveSaving
	SaveFailed
)

func (s SaveStatus) String() string {
	switch s {
	case SaveSaving:
		return "saving"
	case SaveFailed:
		return "failed"
	default:
		return "saved"
	}
}

// Gateway is the server surface the reconciler writes through.
type Gateway interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Mutate(ctx context.Context, req gateway.Request) (*roomapi.SaveResponse, error)
}

// Source delivers broadcast events for the room and presence channels.
type Source interface {
	Events() <-chan Event
}

// Options tunes a Reconciler. Zero values pick defaults.
type Options struct {
	ContentDebounce time.Duration
	RequestTimeout  time.Duration
	// TrackedWrites bounds how many of our own write ids are remembered
	// for echo suppression.
	TrackedWrites int
	// EchoTimeout is how long an acknowledged write waits for its own
	// broadcast before remote events held behind it are applied anyway.
	EchoTimeout time.Duration
	Logger      *zap.Logger
}

// Snapshot is a copy of the reconciler's view.
type Snapshot struct {
	RoomID    string
	Files     []models.FileSystemItem
	Elements  []models.CanvasElement
	Members   []broadcast.Member
	State     State
	Status    SaveStatus
	LastError error
}

type write struct {
	id       string
	fileID   string
	content  string
	files    *[]models.FileSystemItem
	elements *[]models.CanvasElement
}

func (w write) request(roomID string) gateway.Request {
	req := gateway.Request{RoomID: roomID, WriteID: w.id}
	if w.fileID != "" {
		fileID, content := w.fileID, w.content
		req.FileID = &fileID
		req.Content = &content
		return req
	}
	req.Files = w.files
	req.Elements = w.elements
	return req
}

// change is a decoded room event.
type change struct {
	event    string
	fileID   string
	content  string
	files    []models.FileSystemItem
	elements []models.CanvasElement
}

// Reconciler keeps one participant's view of a room.
//
// Local edits apply immediately. Content edits are debounced per file;
// structural and canvas edits are queued at once. All writes go through one
// ordered queue, so the server sees them in the order they were made.
//
// Each write carries a fresh id and stays held from the moment it is queued
// until its own broadcast comes back. Room events that arrive while any
// write is held are kept in arrival order, our own echoes included, and
// replayed once the last held write is released. The broadcast order is the
// order the server persisted in, so the replay ends on the server's state.
// Without an event source a write is released when it is acknowledged.
type Reconciler struct {
	roomID string
	gw     Gateway
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	files    []models.FileSystemItem
	elements []models.CanvasElement
	members  map[string]broadcast.Member

	// dirty holds local content not yet acknowledged, by file id.
	dirty  map[string]string
	timers map[string]*time.Timer
	gen    map[string]uint64

	queue    []write
	inflight bool
	waiters  []chan struct{}

	held       map[string]struct{}
	echoTimers map[string]*time.Timer
	deferred   []change
	echoes     bool

	own      map[string]struct{}
	ownOrder []string

	status  SaveStatus
	lastErr error

	// unsaved is set while the room has never been written. A content patch
	// cannot create a room, so the first write sends the whole tree.
	unsaved bool

	started bool
	closed  bool

	wake    chan struct{}
	changes chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// NewReconciler creates a reconciler for roomID. Call Start before editing.
func NewReconciler(roomID string, gw Gateway, opts Options) *Reconciler {
	if opts.ContentDebounce <= 0 {
		opts.ContentDebounce = DefaultContentDebounce
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.TrackedWrites <= 0 {
		opts.TrackedWrites = defaultTrackedWrites
	}
	if opts.EchoTimeout <= 0 {
		opts.EchoTimeout = defaultEchoTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reconciler{
		roomID:  roomID,
		gw:      gw,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("room_id", roomID)),
		members: make(map[string]broadcast.Member),
		dirty:   make(map[string]string),
		timers:  make(map[string]*time.Timer),
		gen:     make(map[string]uint64),
		own:     make(map[string]struct{}),
		held:    make(map[string]struct{}),

		echoTimers: make(map[string]*time.Timer),
		wake:       make(chan struct{}, 1),
		changes:    make(chan struct{}, 1),
	}
}

// Start seeds the local view from the server and begins sending writes and
// applying events from src. src may be nil. A room that has never been
// written starts from the default file; the first write creates it.
func (r *Reconciler) Start(ctx context.Context, src Source) error {
	room, err := r.gw.Get(ctx, r.roomID)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		room = &models.Room{RoomID: r.roomID, Files: models.DefaultFiles()}
	case err != nil:
		return fmt.Errorf("load room %s: %w", r.roomID, err)
	}
	unsaved := err != nil

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("reconciler already started")
	}
	r.started = true
	r.unsaved = unsaved
	r.files = filetree.Clone(room.Files)
	r.elements = cloneElements(room.Elements)
	r.echoes = src != nil
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	r.done.Add(1)
	go r.sendLoop()

	if src != nil {
		r.done.Add(1)
		go r.eventLoop(src)
	}

	r.notify()
	return nil
}

// Changes signals after the local view changes. Signals coalesce.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]broadcast.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return Snapshot{
		RoomID:    r.roomID,
		Files:     filetree.Clone(r.files),
		Elements:  cloneElements(r.elements),
		Members:   members,
		State:     r.stateLocked(),
		Status:    r.status,
		LastError: r.lastErr,
	}
}

// State reports the write pipeline position.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Reconciler) stateLocked() State {
	switch {
	case r.inflight:
		return StateAwaitingAck
	case len(r.timers) > 0 || len(r.queue) > 0:
		return StatePendingLocal
	default:
		return StateIdle
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Local edits                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// EditContent sets the content of a file. The write is sent once the file
// has been quiet for the debounce window.
func (r *Reconciler) EditContent(fileID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return err
	}

	files, err := filetree.SetContent(r.files, fileID, content)
	if err != nil {
		return err
	}
	r.files = files
	r.dirty[fileID] = content

	if t, ok := r.timers[fileID]; ok {
		t.Stop()
	}
	r.gen[fileID]++
	gen := r.gen[fileID]
	r.timers[fileID] = time.AfterFunc(r.opts.ContentDebounce, func() {
		r.fireContent(fileID, gen)
	})

	r.notify()
	return nil
}

func (r *Reconciler) fireContent(fileID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[fileID] != gen {
		return
	}
	if _, ok := r.timers[fileID]; !ok {
		return
	}
	r.queueContentLocked(fileID)
}

// queueContentLocked moves a debounced edit into the send queue.
func (r *Reconciler) queueContentLocked(fileID string) {
	delete(r.timers, fileID)
	content, ok := r.dirty[fileID]
	if !ok {
		return
	}
	if r.unsaved {
		r.unsaved = false
		snapshot := filetree.Clone(r.files)
		r.enqueueLocked(write{files: &snapshot})
		return
	}
	r.enqueueLocked(write{fileID: fileID, content: content})
}

// CreateFile adds a file under parentID ("" for the root) and returns its id.
func (r *Reconciler) CreateFile(parentID, name string) (string, error) {
	id := ulid.Make().String()
	return id, r.editTree(func(files []models.FileSystemItem) ([]models.FileSystemItem, error) {
		return filetree.CreateFile(files, id, name, parentID)
	})
}

// CreateFolder adds a folder under parentID ("" for the root) and returns
// its id.
func (r *Reconciler) CreateFolder(parentID, name string) (string, error) {
	id := ulid.Make().String()
	return id, r.editTree(func(files []models.FileSystemItem) ([]models.FileSystemItem, error) {
		return filetree.CreateFolder(files, id, name, parentID)
	})
}

// Delete removes an item and everything below it.
func (r *Reconciler) Delete(id string) error {
	return r.editTree(func(files []models.FileSystemItem) ([]models.FileSystemItem, error) {
		return filetree.Delete(files, id)
	})
}

// Rename changes an item's display name.
func (r *Reconciler) Rename(id, name string) error {
	return r.editTree(func(files []models.FileSystemItem) ([]models.FileSystemItem, error) {
		return filetree.Rename(files, id, name)
	})
}

// Move reparents an item under newParentID ("" for the root).
func (r *Reconciler) Move(id, newParentID string) error {
	return r.editTree(func(files []models.FileSystemItem) ([]models.FileSystemItem, error) {
		return filetree.Move(files, id, newParentID)
	})
}

// editTree applies a structural edit and queues the whole tree. The tree
// carries every file's current content, so debounced content edits are
// folded into it.
func (r *Reconciler) editTree(fn func([]models.FileSystemItem) ([]models.FileSystemItem, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return err
	}

	files, err := fn(r.files)
	if err != nil {
		return err
	}
	r.files = files

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	for id := range r.dirty {
		if _, ok := filetree.Find(files, id); !ok {
			delete(r.dirty, id)
		}
	}

	r.unsaved = false
	snapshot := filetree.Clone(files)
	r.enqueueLocked(write{files: &snapshot})
	r.notify()
	return nil
}

// AddElement appends a drawing and returns its id.
func (r *Reconciler) AddElement(tool models.Tool, points []models.Point, color string, width float64) (string, error) {
	if !tool.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTool, tool)
	}
	el := models.CanvasElement{
		ID:     ulid.Make().String(),
		Tool:   tool,
		Points: append([]models.Point(nil), points...),
		Color:  color,
		Width:  width,
	}
	return el.ID, r.editCanvas(func(els []models.CanvasElement) ([]models.CanvasElement, error) {
		return append(els, el), nil
	})
}

// EraseElement removes one drawing.
func (r *Reconciler) EraseElement(id string) error {
	return r.editCanvas(func(els []models.CanvasElement) ([]models.CanvasElement, error) {
		out := make([]models.CanvasElement, 0, len(els))
		for _, el := range els {
			if el.ID != id {
				out = append(out, el)
			}
		}
		if len(out) == len(els) {
			return nil, fmt.Errorf("erase %q: %w", id, ErrElementNotFound)
		}
		return out, nil
	})
}

// ClearCanvas removes every drawing.
func (r *Reconciler) ClearCanvas() error {
	return r.editCanvas(func([]models.CanvasElement) ([]models.CanvasElement, error) {
		return []models.CanvasElement{}, nil
	})
}

func (r *Reconciler) editCanvas(fn func([]models.CanvasElement) ([]models.CanvasElement, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return err
	}

	els, err := fn(cloneElements(r.elements))
	if err != nil {
		return err
	}
	r.elements = els

	r.unsaved = false
	snapshot := cloneElements(els)
	r.enqueueLocked(write{elements: &snapshot})
	r.notify()
	return nil
}

func (r *Reconciler) usableLocked() error {
	switch {
	case r.closed:
		return ErrClosed
	case !r.started:
		return ErrNotStarted
	}
	return nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Send queue                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

func (r *Reconciler) enqueueLocked(w write) {
	w.id = ulid.Make().String()
	r.held[w.id] = struct{}{}
	r.queue = append(r.queue, w)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) sendLoop() {
	defer r.done.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.inflight = false
				r.releaseWaitersLocked()
				r.mu.Unlock()
				r.notify()
				break
			}
			w := r.queue[0]
			r.queue = r.queue[1:]
			r.inflight = true
			r.status = SaveSaving
			r.trackLocked(w.id)
			r.mu.Unlock()

			ctx, cancel := context.WithTimeout(r.ctx, r.opts.RequestTimeout)
			resp, err := r.gw.Mutate(ctx, w.request(r.roomID))
			cancel()

			r.mu.Lock()
			r.ackLocked(w, resp, err)
			r.mu.Unlock()
			r.notify()
		}
	}
}

// ackLocked folds a write's outcome into the view. Failures are recorded
// and not retried; the local view keeps the edit. A successful write stays
// held until its echo arrives, so its response never overwrites state a
// peer persisted after it.
func (r *Reconciler) ackLocked(w write, resp *roomapi.SaveResponse, err error) {
	if err != nil {
		r.status = SaveFailed
		r.lastErr = err
		r.logger.Error("room write failed",
			zap.String("write_id", w.id),
			zap.Error(err))
		r.releaseLocked(w.id)
		return
	}

	if resp == nil {
		resp = &roomapi.SaveResponse{}
	}
	r.lastErr = nil
	if len(r.queue) > 0 {
		r.status = SaveSaving
	} else {
		r.status = SaveSaved
	}

	switch {
	case w.fileID != "":
		if c, ok := r.dirty[w.fileID]; ok && c == w.content && r.timers[w.fileID] == nil {
			delete(r.dirty, w.fileID)
		}
		if resp.NotFound {
			delete(r.dirty, w.fileID)
			r.logger.Warn("edited file no longer exists on the server",
				zap.String("file_id", w.fileID))
			// Nothing was written, so there is no echo. The response
			// carries the tree that made the patch miss.
			if resp.Room != nil {
				r.deferred = append(r.deferred, change{event: broadcast.EventFileTreeChanged, files: resp.Room.Files})
			}
			r.releaseLocked(w.id)
			return
		}
	case w.files != nil:
		for id, c := range r.dirty {
			if r.timers[id] != nil {
				continue
			}
			if f, ok := filetree.Find(*w.files, id); ok && f.Content == c {
				delete(r.dirty, id)
			}
		}
	}

	if !r.echoes {
		r.releaseLocked(w.id)
		return
	}
	if _, ok := r.held[w.id]; ok {
		id := w.id
		r.echoTimers[id] = time.AfterFunc(r.opts.EchoTimeout, func() {
			r.mu.Lock()
			_, still := r.held[id]
			if still {
				r.logger.Warn("no broadcast for acknowledged write",
					zap.String("write_id", id))
				r.releaseLocked(id)
			}
			r.mu.Unlock()
			if still {
				r.notify()
			}
		})
	}
}

// releaseLocked ends the hold of one write. When no write is held any more
// the deferred room events are replayed in arrival order. It reports
// whether the view changed.
func (r *Reconciler) releaseLocked(id string) bool {
	if _, ok := r.held[id]; !ok {
		return false
	}
	delete(r.held, id)
	if t, ok := r.echoTimers[id]; ok {
		t.Stop()
		delete(r.echoTimers, id)
	}
	if len(r.held) > 0 || len(r.deferred) == 0 {
		return false
	}

	changed := false
	for _, c := range r.deferred {
		if err := r.applyChangeLocked(c); err != nil {
			r.logger.Debug("deferred event skipped",
				zap.String("event", c.event),
				zap.Error(err))
			continue
		}
		changed = true
	}
	r.deferred = nil
	return changed
}

func (r *Reconciler) trackLocked(id string) {
	r.own[id] = struct{}{}
	r.ownOrder = append(r.ownOrder, id)
	if len(r.ownOrder) > r.opts.TrackedWrites {
		delete(r.own, r.ownOrder[0])
		r.ownOrder = r.ownOrder[1:]
	}
}

func (r *Reconciler) isOwnLocked(writeID string) bool {
	if writeID == "" {
		return false
	}
	_, ok := r.own[writeID]
	return ok
}

func (r *Reconciler) releaseWaitersLocked() {
	if len(r.timers) > 0 || len(r.queue) > 0 || r.inflight {
		return
	}
	for _, ch := range r.waiters {
		close(ch)
	}
	r.waiters = nil
}

// Flush sends every debounced edit now and waits until the queue is empty.
func (r *Reconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	for id, t := range r.timers {
		t.Stop()
		r.queueContentLocked(id)
	}
	if len(r.queue) == 0 && !r.inflight {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending edits, then stops the reconciler. Edits still
// unsent when ctx ends are lost.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	started := r.started
	r.mu.Unlock()
	if !started {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		return nil
	}

	err := r.Flush(ctx)

	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	for id, t := range r.echoTimers {
		t.Stop()
		delete(r.echoTimers, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.done.Wait()
	return err
}

/*─────────────────────────────────────────────────────────────────────────────*
| Remote events                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

func (r *Reconciler) eventLoop(src Source) {
	defer r.done.Done()
	events := src.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Warn("event stream ended")
				return
			}
			r.Apply(ev)
		}
	}
}

// Apply folds one broadcast event into the view. Events that echo one of
// our writes are ignored.
func (r *Reconciler) Apply(ev Event) {
	var changed bool
	var err error

	switch ev.Channel {
	case broadcast.RoomChannel(r.roomID):
		changed, err = r.applyRoomEvent(ev)
	case broadcast.PresenceChannel(r.roomID):
		changed, err = r.applyPresenceEvent(ev)
	default:
		return
	}

	if err != nil {
		r.logger.Warn("could not apply event",
			zap.String("channel", ev.Channel),
			zap.String("event", ev.Event),
			zap.Error(err))
		return
	}
	if changed {
		r.notify()
	}
}

func (r *Reconciler) applyRoomEvent(ev Event) (bool, error) {
	c, writeID, err := decodeChange(ev)
	if err != nil || c.event == "" {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Someone has written the room.
	r.unsaved = false

	if len(r.held) > 0 {
		r.deferred = append(r.deferred, c)
		if writeID != "" {
			return r.releaseLocked(writeID), nil
		}
		return false, nil
	}
	if r.isOwnLocked(writeID) {
		return false, nil
	}
	if err := r.applyChangeLocked(c); err != nil {
		return false, err
	}
	return true, nil
}

func decodeChange(ev Event) (change, string, error) {
	switch ev.Event {
	case broadcast.EventFileContentChanged:
		var p broadcast.FileContentChanged
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return change{}, "", err
		}
		return change{event: ev.Event, fileID: p.FileID, content: p.Content}, p.WriteID, nil
	case broadcast.EventFileTreeChanged:
		var p broadcast.FileTreeChanged
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return change{}, "", err
		}
		return change{event: ev.Event, files: p.Files}, p.WriteID, nil
	case broadcast.EventCanvasChanged:
		var p broadcast.CanvasChanged
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return change{}, "", err
		}
		return change{event: ev.Event, elements: p.Elements}, p.WriteID, nil
	}
	return change{}, "", nil
}

// applyChangeLocked lays a room event over the view. Local content not yet
// acknowledged stays on top.
func (r *Reconciler) applyChangeLocked(c change) error {
	switch c.event {
	case broadcast.EventFileContentChanged:
		if _, pending := r.dirty[c.fileID]; pending {
			// Our later write for this file wins on the server.
			return nil
		}
		files, err := filetree.SetContent(r.files, c.fileID, c.content)
		if err != nil {
			return err
		}
		r.files = files

	case broadcast.EventFileTreeChanged:
		for id := range r.dirty {
			if _, ok := filetree.Find(c.files, id); !ok {
				delete(r.dirty, id)
				if t, ok := r.timers[id]; ok {
					t.Stop()
					delete(r.timers, id)
				}
			}
		}
		r.files = overlay(c.files, r.dirty)

	case broadcast.EventCanvasChanged:
		r.elements = cloneElements(c.elements)
	}
	return nil
}

func (r *Reconciler) applyPresenceEvent(ev Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Event {
	case broadcast.EventSubscriptionSucceeded:
		var snap broadcast.PresenceSnapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			return false, err
		}
		r.members = make(map[string]broadcast.Member, len(snap.Members))
		for _, m := range snap.Members {
			r.members[m.UserID] = m
		}
		return true, nil
	case broadcast.EventMemberAdded:
		var m broadcast.Member
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return false, err
		}
		r.members[m.UserID] = m
		return true, nil
	case broadcast.EventMemberRemoved:
		var m broadcast.Member
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return false, err
		}
		delete(r.members, m.UserID)
		return true, nil
	case broadcast.EventSubscriptionError:
		return false, fmt.Errorf("subscription rejected: %s", string(ev.Data))
	}
	return false, nil
}

func (r *Reconciler) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

func overlay(files []models.FileSystemItem, dirty map[string]string) []models.FileSystemItem {
	out := filetree.Clone(files)
	for i := range out {
		if c, ok := dirty[out[i].ID]; ok && !out[i].IsFolder() {
			out[i].Content = c
		}
	}
	return out
}

func cloneElements(els []models.CanvasElement) []models.CanvasElement {
	out := make([]models.CanvasElement, len(els))
	for i, el := range els {
		el.Points = append([]models.Point(nil), el.Points...)
		out[i] = el
	}
	return out
}
