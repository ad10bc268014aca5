// internal/app/system/broadcast/broadcast.go

// Package broadcast fans room change events out to subscribed clients.
//
// Every room has two channels: a public event channel carrying
// file-tree-changed, file-content-changed and canvas-changed, and a presence
// channel carrying membership events. Backends implement Broadcaster; the
// Dispatcher sits in front of a backend so that publishing never blocks a
// request.
package broadcast

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/devsync/internal/domain/models"
)

// Room change events.
const (
	EventFileTreeChanged    = "file-tree-changed"
	EventFileContentChanged = "file-content-changed"
	EventCanvasChanged      = "canvas-changed"
)

// Presence events.
const (
	EventSubscriptionSucceeded = "subscription-succeeded"
	EventSubscriptionError     = "subscription-error"
	EventMemberAdded           = "member-added"
	EventMemberRemoved         = "member-removed"
)

const (
	roomPrefix     = "room-"
	privatePrefix  = "private-"
	presencePrefix = "presence-"
)

var (
	// ErrPublicChannel is returned when authorization is requested for a
	// channel that anyone may subscribe to.
	ErrPublicChannel = errors.New("channel does not require authorization")
	// ErrBadSignature is returned when a subscription carries an invalid auth.
	ErrBadSignature = errors.New("invalid channel signature")
	// ErrMissingMember is returned when a presence subscription has no identity.
	ErrMissingMember = errors.New("presence channel requires a member")
)

// RoomChannel returns the event channel for a room.
func RoomChannel(roomID string) string {
	return roomPrefix + roomID
}

// PresenceChannel returns the membership channel for a room.
func PresenceChannel(roomID string) string {
	return presencePrefix + roomPrefix + roomID
}

// IsPresence reports whether channel is a presence channel.
func IsPresence(channel string) bool {
	return strings.HasPrefix(channel, presencePrefix)
}

// IsPrivate reports whether subscribing to channel requires authorization.
func IsPrivate(channel string) bool {
	return IsPresence(channel) || strings.HasPrefix(channel, privatePrefix)
}

// FileTreeChanged is the payload of EventFileTreeChanged.
type FileTreeChanged struct {
	Files   []models.FileSystemItem `json:"files"`
	WriteID string                  `json:"writeId,omitempty"`
}

// FileContentChanged is the payload of EventFileContentChanged.
type FileContentChanged struct {
	FileID  string `json:"fileId"`
	Content string `json:"content"`
	WriteID string `json:"writeId,omitempty"`
}

// CanvasChanged is the payload of EventCanvasChanged.
type CanvasChanged struct {
	Elements []models.CanvasElement `json:"elements"`
	WriteID  string                 `json:"writeId,omitempty"`
}

// Member is a presence channel participant.
type Member struct {
	UserID   string     `json:"user_id"`
	UserInfo MemberInfo `json:"user_info"`
}

// MemberInfo is the identity payload attached to a presence member.
type MemberInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Broadcaster publishes events to channel subscribers.
type Broadcaster interface {
	// Publish delivers one event. Delivery is at-most-once.
	Publish(ctx context.Context, channel, event string, data any) error
	// Name identifies the backend in logs and health output.
	Name() string
	Close() error
}

// Authorizer signs private and presence channel subscriptions. The returned
// bytes are the JSON body handed back to the subscribing client.
type Authorizer interface {
	Authorize(socketID, channel string, member *Member) ([]byte, error)
}
