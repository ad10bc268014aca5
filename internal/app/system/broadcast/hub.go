// internal/app/system/broadcast/hub.go
package broadcast

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 64 * 1024
	sendBuffer     = 256
)

// Frame is the JSON message exchanged on a hub websocket. Server frames
// carry Event, Channel and Data. Client frames carry Event ("subscribe",
// "unsubscribe" or "ping"), Channel and, for private channels, Auth and
// ChannelData.
type Frame struct {
	Event       string          `json:"event"`
	Channel     string          `json:"channel,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Auth        string          `json:"auth,omitempty"`
	ChannelData string          `json:"channelData,omitempty"`
}

// Hub control events.
const (
	EventConnectionEstablished = "connection-established"
	EventSubscribe             = "subscribe"
	EventUnsubscribe           = "unsubscribe"
	EventPing                  = "ping"
	EventPong                  = "pong"
)

// ConnectionEstablished is the payload of the first frame on a connection.
type ConnectionEstablished struct {
	SocketID string `json:"socketId"`
}

// PresenceSnapshot is sent to a presence subscriber on success.
type PresenceSnapshot struct {
	Me      Member   `json:"me"`
	Members []Member `json:"members"`
	Count   int      `json:"count"`
}

// AuthResponse is the body returned by a channel authorization callback.
type AuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("hub closed")

type presenceEntry struct {
	member Member
	conns  int
}

// Hub is a self-hosted websocket broker. It serves the same channel model
// as the hosted backend: public room channels, and private/presence
// channels whose subscriptions must be signed by the server.
type Hub struct {
	secret   []byte
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*hubConn]struct{}
	channels map[string]map[*hubConn]struct{}
	presence map[string]map[string]*presenceEntry
	closed   bool
}

type hubConn struct {
	hub  *Hub
	ws   *websocket.Conn
	id   string
	send chan []byte

	// guarded by hub.mu
	subs   map[string]string // channel → presence user id ("" for others)
	closed bool
}

// NewHub creates a hub that signs subscriptions with secret.
//
// allowedOrigins restricts which browser origins may open a socket. Empty
// allows any origin. Requests without an Origin header come from
// non-browser clients and are always allowed.
func NewHub(secret string, allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		secret: []byte(secret),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		conns:    make(map[*hubConn]struct{}),
		channels: make(map[string]map[*hubConn]struct{}),
		presence: make(map[string]map[string]*presenceEntry),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (h *Hub) Name() string { return "hub" }

// ServeHTTP upgrades the request and serves one subscriber until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubConn{
		hub:  h,
		ws:   ws,
		id:   ulid.Make().String(),
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]string),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("hub connection opened", zap.String("socket_id", c.id))
	h.sendTo(c, frame(EventConnectionEstablished, "", ConnectionEstablished{SocketID: c.id}))

	go c.writePump()
	c.readPump()
}

// Publish delivers event to every current subscriber of channel. A
// subscriber whose send buffer is full is disconnected.
func (h *Hub) Publish(_ context.Context, channel, event string, data any) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHubClosed
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Frame{Event: event, Channel: channel, Data: raw})
	if err != nil {
		return err
	}
	h.deliver(channel, payload, nil)
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	return nil
}

// Sign returns the subscription signature for a socket and channel.
func (h *Hub) Sign(socketID, channel, channelData string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(socketID + ":" + channel))
	if channelData != "" {
		mac.Write([]byte(":" + channelData))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Authorize signs a private or presence subscription for socketID.
func (h *Hub) Authorize(socketID, channel string, member *Member) ([]byte, error) {
	if !IsPrivate(channel) {
		return nil, ErrPublicChannel
	}
	var resp AuthResponse
	if IsPresence(channel) {
		if member == nil {
			return nil, ErrMissingMember
		}
		cd, err := json.Marshal(member)
		if err != nil {
			return nil, err
		}
		resp.ChannelData = string(cd)
	}
	resp.Auth = h.Sign(socketID, channel, resp.ChannelData)
	return json.Marshal(resp)
}

// Members returns the distinct members of a presence channel, ordered by id.
func (h *Hub) Members(channel string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.membersLocked(channel)
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) membersLocked(channel string) []Member {
	entries := h.presence[channel]
	out := make([]Member, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (h *Hub) subscribe(c *hubConn, f Frame) error {
	var member *Member
	if IsPrivate(f.Channel) {
		want := h.Sign(c.id, f.Channel, f.ChannelData)
		if !hmac.Equal([]byte(want), []byte(f.Auth)) {
			return ErrBadSignature
		}
	}
	if IsPresence(f.Channel) {
		var m Member
		if err := json.Unmarshal([]byte(f.ChannelData), &m); err != nil || m.UserID == "" {
			return ErrMissingMember
		}
		member = &m
	}

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return nil
	}
	if _, dup := c.subs[f.Channel]; dup {
		h.mu.Unlock()
		return nil
	}
	subs := h.channels[f.Channel]
	if subs == nil {
		subs = make(map[*hubConn]struct{})
		h.channels[f.Channel] = subs
	}
	subs[c] = struct{}{}

	var ok []byte
	var joined []byte
	if member == nil {
		c.subs[f.Channel] = ""
		ok = frame(EventSubscriptionSucceeded, f.Channel, struct{}{})
	} else {
		c.subs[f.Channel] = member.UserID
		entries := h.presence[f.Channel]
		if entries == nil {
			entries = make(map[string]*presenceEntry)
			h.presence[f.Channel] = entries
		}
		e := entries[member.UserID]
		if e == nil {
			e = &presenceEntry{member: *member}
			entries[member.UserID] = e
			joined = frame(EventMemberAdded, f.Channel, *member)
		}
		e.conns++
		members := h.membersLocked(f.Channel)
		ok = frame(EventSubscriptionSucceeded, f.Channel, PresenceSnapshot{
			Me:      *member,
			Members: members,
			Count:   len(members),
		})
	}
	c.enqueueLocked(ok)
	h.mu.Unlock()

	if joined != nil {
		h.deliver(f.Channel, joined, c)
	}
	return nil
}

func (h *Hub) unsubscribe(c *hubConn, channel string) {
	h.mu.Lock()
	left := h.removeLocked(c, channel)
	h.mu.Unlock()
	if left != nil {
		h.deliver(channel, left, nil)
	}
}

// removeLocked drops c from channel and returns the member-removed frame to
// send when that was the member's last connection.
func (h *Hub) removeLocked(c *hubConn, channel string) []byte {
	uid, ok := c.subs[channel]
	if !ok {
		return nil
	}
	delete(c.subs, channel)
	if subs := h.channels[channel]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if uid == "" {
		return nil
	}
	entries := h.presence[channel]
	e := entries[uid]
	if e == nil {
		return nil
	}
	e.conns--
	if e.conns > 0 {
		return nil
	}
	delete(entries, uid)
	if len(entries) == 0 {
		delete(h.presence, channel)
	}
	return frame(EventMemberRemoved, channel, e.member)
}

func (h *Hub) unregister(c *hubConn) {
	type leave struct {
		channel string
		payload []byte
	}
	var leaves []leave

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	for ch := range c.subs {
		if p := h.removeLocked(c, ch); p != nil {
			leaves = append(leaves, leave{ch, p})
		}
	}
	c.closed = true
	close(c.send)
	delete(h.conns, c)
	h.mu.Unlock()

	for _, l := range leaves {
		h.deliver(l.channel, l.payload, nil)
	}
	h.logger.Debug("hub connection closed", zap.String("socket_id", c.id))
}

func (h *Hub) deliver(channel string, payload []byte, except *hubConn) {
	var slow []*hubConn

	h.mu.Lock()
	for c := range h.channels[channel] {
		if c == except {
			continue
		}
		if !c.enqueueLocked(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("hub subscriber too slow, disconnecting",
			zap.String("socket_id", c.id),
			zap.String("channel", channel))
		_ = c.ws.Close()
	}
}

func (h *Hub) sendTo(c *hubConn, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.enqueueLocked(payload)
}

// enqueueLocked queues payload without blocking. Callers hold hub.mu.
func (c *hubConn) enqueueLocked(payload []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *hubConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxClientFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("hub read failed", zap.String("socket_id", c.id), zap.Error(err))
			}
			return
		}

		switch f.Event {
		case EventSubscribe:
			if err := c.hub.subscribe(c, f); err != nil {
				c.hub.logger.Info("hub subscription rejected",
					zap.String("socket_id", c.id),
					zap.String("channel", f.Channel),
					zap.Error(err))
				c.hub.sendTo(c, frame(EventSubscriptionError, f.Channel, map[string]string{"error": err.Error()}))
			}
		case EventUnsubscribe:
			c.hub.unsubscribe(c, f.Channel)
		case EventPing:
			c.hub.sendTo(c, frame(EventPong, "", nil))
		default:
			c.hub.sendTo(c, frame(EventSubscriptionError, f.Channel, map[string]string{"error": "unknown event " + f.Event}))
		}
	}
}

func (c *hubConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func frame(event, channel string, data any) []byte {
	b, _ := json.Marshal(Frame{Event: event, Channel: channel, Data: mustRaw(data)})
	return b
}

// mustRaw encodes data for a frame. Values that cannot be encoded become
// JSON null; every payload type in this package is plain data.
func mustRaw(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
