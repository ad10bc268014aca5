package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/network"
	"go.uber.org/zap"
)

// APIKeyAuth returns middleware that guards operator endpoints with a
// static key sent as "Authorization: Bearer <api-key>".
//
// Usage in routes.go:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(auth.APIKeyAuth(appCfg.AdminAPIKey, logger))
//	    r.Delete("/api/room/{roomId}", roomHandler.DeleteHandler)
//	})
//
// If the key is not configured every request is rejected.
func APIKeyAuth(validKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	if validKey == "" {
		logger.Warn("admin API key not configured - operator endpoints are disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validKey == "" {
				jsonutil.Unauthorized(w, "operator API not configured")
				return
			}

			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Debug("operator request rejected: missing or malformed Authorization header",
					zap.String("path", r.URL.Path))
				jsonutil.Unauthorized(w, "Missing Authorization header (expected: Bearer <api-key>)")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(validKey)) != 1 {
				logger.Warn("operator request rejected: invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("client_ip", network.GetClientIP(r)))
				jsonutil.Unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
