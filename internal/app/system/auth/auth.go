// Package auth resolves the identity attached to a realtime connection.
//
// A request carrying a valid signed token is the user named in it. Any
// other caller is a guest; the guest identity is kept in a signed session
// cookie so reconnects and extra tabs keep the same presence member.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// Session error classification for logging and monitoring.
type sessionErrorType int

const (
	sessionErrUnknown   sessionErrorType = iota
	sessionErrExpired                    // timestamp expired - normal
	sessionErrTampered                   // MAC invalid - potential attack
	sessionErrCorrupted                  // decode/decrypt failed - corruption or key rotation
	sessionErrBackend                    // store/backend failure
)

const (
	guestIDKey   = "guest_id"
	guestNameKey = "guest_name"

	// GuestEmail marks a guest in the identity payload.
	GuestEmail = "guest"

	defaultSessionName = "devsync-session"
)

// Identity is the principal behind a request.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Guest  bool   `json:"guest"`
}

/*─────────────────────────────────────────────────────────────────────────────*
| SessionManager                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager resolves identities from the token cookie or the guest
// session.
type SessionManager struct {
	store  *sessions.CookieStore
	logger *zap.Logger
	name   string
	tokens *TokenVerifier
}

// NewSessionManager creates a SessionManager.
//
// Parameters:
//   - sessionKey: signing key for the guest cookie (must be ≥32 chars when secure)
//   - name: session cookie name (defaults to "devsync-session" if empty)
//   - maxAge: guest cookie lifetime
//   - secure: if true, cookies are Secure and weak keys are refused
//   - tokens: verifier for signed-in users; nil means everyone is a guest
func NewSessionManager(sessionKey, name string, maxAge time.Duration, secure bool, tokens *TokenVerifier, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, &SessionConfigError{Message: "session key is empty; provide ≥32 random chars"}
	}

	isWeak := len(sessionKey) < 32 || isDefaultKey(sessionKey)
	if secure && isWeak {
		return nil, &SessionConfigError{
			Message: "session key is too weak for production; provide ≥32 random chars (not the default dev key)",
		}
	} else if isWeak {
		logger.Warn("session key is weak; 32+ random chars required in production",
			zap.Int("length", len(sessionKey)),
			zap.Bool("is_default", isDefaultKey(sessionKey)))
	}

	if name == "" {
		name = defaultSessionName
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:  store,
		logger: logger,
		name:   name,
		tokens: tokens,
	}, nil
}

// SessionConfigError is returned when session configuration is invalid.
type SessionConfigError struct {
	Message string
}

func (e *SessionConfigError) Error() string {
	return e.Message
}

// SessionName returns the configured session cookie name.
func (sm *SessionManager) SessionName() string {
	return sm.name
}

// Resolve returns the identity for r. A guest seen for the first time gets a
// new identity, saved to the response as a session cookie.
func (sm *SessionManager) Resolve(w http.ResponseWriter, r *http.Request) Identity {
	if sm.tokens != nil {
		claims, err := sm.tokens.FromRequest(r)
		if err == nil {
			return Identity{
				UserID: claims.UserID,
				Name:   claims.DisplayName(),
				Email:  claims.Email,
			}
		}
		if !errors.Is(err, ErrNoToken) {
			sm.logger.Debug("auth token rejected, treating caller as guest",
				zap.String("path", r.URL.Path),
				zap.Error(err))
		}
	}

	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		sm.logSessionError(r, err)
	}

	id := getString(sess, guestIDKey)
	name := getString(sess, guestNameKey)
	if id == "" {
		id = "guest-" + uuid.NewString()
		name = fmt.Sprintf("Guest %d", rand.IntN(1000))
		sess.Values[guestIDKey] = id
		sess.Values[guestNameKey] = name
		if err := sess.Save(r, w); err != nil {
			sm.logger.Warn("failed to save guest session", zap.Error(err))
		}
	}
	return Identity{UserID: id, Name: name, Email: GuestEmail, Guest: true}
}

// LoadIdentity returns middleware that resolves the caller and stores the
// identity in the request context.
func (sm *SessionManager) LoadIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sm.Resolve(w, r)
		next.ServeHTTP(w, WithIdentity(r, id))
	})
}

func (sm *SessionManager) logSessionError(r *http.Request, err error) {
	errType, errCategory := classifySessionError(err)
	switch errType {
	case sessionErrExpired:
		sm.logger.Debug("session expired, starting fresh guest session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	case sessionErrTampered:
		sm.logger.Warn("session MAC validation failed (possible tampering)",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()))
	case sessionErrCorrupted:
		sm.logger.Info("session decode failed, starting fresh guest session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	default:
		sm.logger.Error("session store error, starting fresh guest session",
			zap.Error(err),
			zap.String("path", r.URL.Path))
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Context helpers                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

type ctxKey string

const identityKey ctxKey = "identity"

// WithIdentity returns a copy of r carrying id.
func WithIdentity(r *http.Request, id Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

// CurrentIdentity returns the identity stored by LoadIdentity.
func CurrentIdentity(r *http.Request) (Identity, bool) {
	id, ok := r.Context().Value(identityKey).(Identity)
	return id, ok
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

// isDefaultKey checks if the session key appears to be a default/placeholder value.
func isDefaultKey(key string) bool {
	lower := strings.ToLower(key)
	patterns := []string{
		"dev-only",
		"change-me",
		"change-this",
		"placeholder",
		"default",
		"example",
		"insecure",
		"test-key",
		"secret123",
		"password",
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifySessionError categorizes a session/cookie error for appropriate logging.
func classifySessionError(err error) (sessionErrorType, string) {
	if err == nil {
		return sessionErrUnknown, "none"
	}

	errStr := strings.ToLower(err.Error())

	if scErr, ok := err.(securecookie.Error); ok {
		if !scErr.IsDecode() {
			return sessionErrBackend, "backend"
		}

		switch {
		case strings.Contains(errStr, "expired timestamp"):
			return sessionErrExpired, "expired"
		case strings.Contains(errStr, "mac") || strings.Contains(errStr, "hash"):
			return sessionErrTampered, "mac_invalid"
		case strings.Contains(errStr, "decrypt"):
			return sessionErrCorrupted, "decrypt_failed"
		case strings.Contains(errStr, "base64") || strings.Contains(errStr, "decode"):
			return sessionErrCorrupted, "decode_failed"
		default:
			return sessionErrCorrupted, "decode_other"
		}
	}

	return sessionErrBackend, "unknown"
}
