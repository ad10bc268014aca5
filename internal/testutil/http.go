package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/google/uuid"
)

// SignedInIdentity returns an identity for a signed-in test user.
func SignedInIdentity() auth.Identity {
	return auth.Identity{
		UserID: "user-" + uuid.NewString(),
		Name:   "Test User",
		Email:  "user@test.com",
	}
}

// GuestIdentity returns a guest identity.
func GuestIdentity() auth.Identity {
	return auth.Identity{
		UserID: "guest-" + uuid.NewString(),
		Name:   "Guest 7",
		Email:  auth.GuestEmail,
		Guest:  true,
	}
}

// WithIdentity adds an identity to the request context. This bypasses
// auth.SessionManager and injects the identity directly.
func WithIdentity(r *http.Request, id auth.Identity) *http.Request {
	return auth.WithIdentity(r, id)
}

// NewJSONRequest creates a request whose body is body encoded as JSON.
// A string body is sent verbatim so tests can post malformed JSON.
func NewJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t interface{ Errorf(string, ...any) }, expected int) {
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body %s)", r.Code, expected, r.Body.String())
	}
}

// DecodeJSON decodes the response body into v.
func (r *ResponseRecorder) DecodeJSON(t *testing.T, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
