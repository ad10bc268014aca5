package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenCookie is the cookie holding a signed-in user's token.
const DefaultTokenCookie = "auth_token"

// ErrNoToken is returned when a request carries no token at all.
var ErrNoToken = errors.New("no auth token")

// Claims are the fields of a signed-in user's token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// DisplayName returns Name, falling back to the local part of Email.
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if at := strings.IndexByte(c.Email, '@'); at > 0 {
		return c.Email[:at]
	}
	return c.Email
}

// TokenVerifier checks HS256 tokens issued by the account service.
type TokenVerifier struct {
	secret     []byte
	cookieName string
}

// NewTokenVerifier creates a verifier. cookieName defaults to "auth_token".
func NewTokenVerifier(secret, cookieName string) *TokenVerifier {
	if cookieName == "" {
		cookieName = DefaultTokenCookie
	}
	return &TokenVerifier{secret: []byte(secret), cookieName: cookieName}
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no userId")
	}
	return claims, nil
}

// FromRequest verifies the token in the auth cookie, or in a Bearer
// Authorization header when there is no cookie.
func (v *TokenVerifier) FromRequest(r *http.Request) (*Claims, error) {
	if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
		return v.Verify(c.Value)
	}
	h := r.Header.Get("Authorization")
	if parts := strings.SplitN(h, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return v.Verify(strings.TrimSpace(parts[1]))
	}
	return nil, ErrNoToken
}

// Issue signs claims valid for ttl.
func (v *TokenVerifier) Issue(userID, email, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
