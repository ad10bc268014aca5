// internal/app/system/broadcast/pusher.go
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pusher/pusher-http-go/v5"
	"go.uber.org/zap"
)

// PusherMaxPayload is the largest event body Pusher Channels accepts.
const PusherMaxPayload = 10 * 1024

// ErrPayloadTooLarge is returned when an event body exceeds the broker limit.
// Trees carry every file's content, so large rooms hit it first.
var ErrPayloadTooLarge = errors.New("event payload exceeds broker limit")

// PusherConfig holds hosted broker credentials.
type PusherConfig struct {
	AppID   string
	Key     string
	Secret  string
	Cluster string
}

// Pusher publishes through the hosted Pusher Channels service.
type Pusher struct {
	client *pusher.Client
	logger *zap.Logger
}

// NewPusher creates a Pusher backend.
func NewPusher(cfg PusherConfig, logger *zap.Logger) *Pusher {
	return &Pusher{
		client: &pusher.Client{
			AppID:      cfg.AppID,
			Key:        cfg.Key,
			Secret:     cfg.Secret,
			Cluster:    cfg.Cluster,
			Secure:     true,
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
		},
		logger: logger,
	}
}

// Publish triggers event on channel. The client library is synchronous and
// takes no context; the HTTP client timeout bounds the call instead.
// Payloads over PusherMaxPayload are refused before any request is made.
func (p *Pusher) Publish(_ context.Context, channel, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if len(body) > PusherMaxPayload {
		p.logger.Warn("event too large for pusher, clients will miss it until they reload",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Int("bytes", len(body)),
			zap.Int("limit", PusherMaxPayload))
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrPayloadTooLarge, event, len(body), PusherMaxPayload)
	}
	return p.client.Trigger(channel, event, data)
}

func (p *Pusher) Name() string { return "pusher" }

func (p *Pusher) Close() error { return nil }

// Authorize signs a private or presence subscription.
func (p *Pusher) Authorize(socketID, channel string, member *Member) ([]byte, error) {
	if !IsPrivate(channel) {
		return nil, ErrPublicChannel
	}
	params := []byte(url.Values{
		"socket_id":    {socketID},
		"channel_name": {channel},
	}.Encode())

	if !IsPresence(channel) {
		return p.client.AuthorizePrivateChannel(params)
	}
	if member == nil {
		return nil, ErrMissingMember
	}
	return p.client.AuthorizePresenceChannel(params, pusher.MemberData{
		UserID: member.UserID,
		UserInfo: map[string]string{
			"name":  member.UserInfo.Name,
			"email": member.UserInfo.Email,
		},
	})
}
