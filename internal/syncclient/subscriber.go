package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	subscriberWriteWait = 10 * time.Second
	eventBuffer         = 256
)

// ErrSubscriberClosed is returned by Subscribe after Close.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Event is one frame received on a subscribed channel.
type Event struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

// AuthorizeFunc signs a private or presence subscription for socketID.
type AuthorizeFunc func(ctx context.Context, socketID, channel string) (broadcast.AuthResponse, error)

// Subscriber is a websocket connection to the built-in hub.
type Subscriber struct {
	ws        *websocket.Conn
	socketID  string
	authorize AuthorizeFunc
	logger    *zap.Logger

	writeMu sync.Mutex
	events  chan Event
	quit    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	err       error
}

// Dial connects to the hub at url and waits for the connection-established
// frame. authorize is used for private and presence channels and may be nil
// if only public channels are needed.
func Dial(ctx context.Context, url string, authorize AuthorizeFunc, logger *zap.Logger) (*Subscriber, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(dl)
	}
	var f broadcast.Frame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	if f.Event != broadcast.EventConnectionEstablished {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected handshake event %q", f.Event)
	}
	var est broadcast.ConnectionEstablished
	if err := json.Unmarshal(f.Data, &est); err != nil || est.SocketID == "" {
		_ = ws.Close()
		return nil, fmt.Errorf("handshake carried no socket id")
	}

	s := &Subscriber{
		ws:        ws,
		socketID:  est.SocketID,
		authorize: authorize,
		logger:    logger,
		events:    make(chan Event, eventBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// SocketID returns the id the hub assigned to this connection.
func (s *Subscriber) SocketID() string { return s.socketID }

// Events returns received frames. The channel is closed when the
// connection ends; Err then reports why.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Err returns the error that ended the connection, if any.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Subscribe joins channel. Rejection by the hub arrives later as a
// subscription-error event.
func (s *Subscriber) Subscribe(ctx context.Context, channel string) error {
	f := broadcast.Frame{Event: broadcast.EventSubscribe, Channel: channel}
	if broadcast.IsPrivate(channel) {
		if s.authorize == nil {
			return fmt.Errorf("channel %s requires authorization", channel)
		}
		auth, err := s.authorize(ctx, s.socketID, channel)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", channel, err)
		}
		f.Auth = auth.Auth
		f.ChannelData = auth.ChannelData
	}
	return s.write(f)
}

// Unsubscribe leaves channel.
func (s *Subscriber) Unsubscribe(channel string) error {
	return s.write(broadcast.Frame{Event: broadcast.EventUnsubscribe, Channel: channel})
}

func (s *Subscriber) write(f broadcast.Frame) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(subscriberWriteWait))
	return s.ws.WriteJSON(f)
}

// Close ends the connection and waits for the read loop to stop.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		s.writeMu.Lock()
		_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	<-s.done
	return err
}

func (s *Subscriber) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	for {
		var f broadcast.Frame
		if err := s.ws.ReadJSON(&f); err != nil {
			select {
			case <-s.quit:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.err = err
					s.logger.Debug("hub connection lost",
						zap.String("socket_id", s.socketID),
						zap.Error(err))
				}
			}
			return
		}
		if f.Event == broadcast.EventPong {
			continue
		}
		select {
		case s.events <- Event{Channel: f.Channel, Event: f.Event, Data: f.Data}:
		case <-s.quit:
			return
		}
	}
}
