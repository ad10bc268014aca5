package syncclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"go.uber.org/zap"
)

// Session is a live room: a hub subscription feeding a Reconciler.
type Session struct {
	*Reconciler
	sub *Subscriber
}

// Subscriber returns the hub connection backing the session.
func (s *Session) Subscriber() *Subscriber {
	return s.sub
}

// Connect joins roomID on the server behind c. It subscribes to the room and
// presence channels before loading the snapshot so that no change made after
// the load can be missed.
func Connect(ctx context.Context, c *Client, roomID string, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sub, err := Dial(ctx, c.SocketURL(), c.Authorize, logger)
	if err != nil {
		return nil, err
	}
	for _, ch := range []string{broadcast.RoomChannel(roomID), broadcast.PresenceChannel(roomID)} {
		if err := sub.Subscribe(ctx, ch); err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	rec := NewReconciler(roomID, c, opts)
	if err := rec.Start(ctx, sub); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return &Session{Reconciler: rec, sub: sub}, nil
}

// Close flushes pending edits and disconnects.
func (s *Session) Close(ctx context.Context) error {
	err := s.Reconciler.Close(ctx)
	return errors.Join(err, s.sub.Close())
}
