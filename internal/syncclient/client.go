// Package syncclient is the Go side of a room participant: an HTTP client
// for the room and realtime APIs, a websocket subscriber for the built-in
// hub, and a Reconciler that keeps an optimistic local view of a room in
// step with everyone else's edits.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/devsync/internal/app/features/roomapi"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"github.com/dalemusser/devsync/internal/domain/models"
)

// ErrRoomNotFound is returned by Get for a room that has never been written.
var ErrRoomNotFound = errors.New("room not found")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a DevSync server. It keeps cookies between calls so a
// guest keeps one identity across channel authorizations.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	socket string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Jar is kept if set.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithToken sends a bearer token so presence shows the signed-in user.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithSocketURL overrides the hub websocket endpoint, for deployments that
// serve the hub from a different host than the API.
func WithSocketURL(u string) ClientOption {
	return func(c *Client) { c.socket = u }
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}

	jar, _ := cookiejar.New(nil)
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 15 * time.Second, Jar: jar},
	}
	for _, o := range opts {
		o(c)
	}
	if c.http.Jar == nil {
		c.http.Jar = jar
	}
	return c, nil
}

// SocketURL returns the hub websocket endpoint for this server.
func (c *Client) SocketURL() string {
	if c.socket != "" {
		return c.socket
	}
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime/ws"
	return u.String()
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path += path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Get returns the room snapshot, or ErrRoomNotFound.
func (c *Client) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var resp roomapi.GetResponse
	err := c.do(ctx, http.MethodGet, c.endpoint("/api/room/save", url.Values{"roomId": {roomID}}), nil, "", &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp.Room, nil
}

// Mutate posts one mutation.
func (c *Client) Mutate(ctx context.Context, req gateway.Request) (*roomapi.SaveResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp roomapi.SaveResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint("/api/room/save", nil), bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Authorize asks the server to sign a private or presence subscription.
func (c *Client) Authorize(ctx context.Context, socketID, channel string) (broadcast.AuthResponse, error) {
	form := url.Values{"socket_id": {socketID}, "channel_name": {channel}}
	var resp broadcast.AuthResponse
	err := c.do(ctx, http.MethodPost, c.endpoint("/api/realtime/auth", nil),
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &msg)
		if msg.Error == "" {
			msg.Error = msg.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg.Error}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
