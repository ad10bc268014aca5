// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Database connection timeouts
//
// AppConfig covers the room store, identity, the broadcaster, and the
// outbound services DevSync talks to.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// RoomStore selects the room persistence: "mongo" or "memory".
	// Memory keeps rooms in process and skips MongoDB entirely.
	RoomStore string

	// Guest identity cookie
	SessionKey    string
	SessionName   string
	SessionMaxAge time.Duration

	// Signed-in identity (HS256 tokens from the account service)
	JWTSecret      string
	AuthCookieName string

	// Broadcaster: "hub", "pusher", or "none"
	Broadcaster        string
	HubSecret          string
	PusherAppID        string
	PusherKey          string
	PusherSecret       string
	PusherCluster      string
	BroadcastQueueSize int

	// Sync gateway
	ValidateFileTree bool
	MaxBodyBytes     int64

	// Code execution proxy
	ExecuteURL     string
	ExecuteTimeout time.Duration

	// RoomRetention prunes rooms idle for longer than this. Zero disables.
	RoomRetention time.Duration

	// AdminAPIKey guards operator endpoints (room delete, stats).
	AdminAPIKey string

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// API stats
	APIStatsEnabled   bool
	APIStatsBucket    time.Duration
	APIStatsRetention time.Duration

	// Timeouts
	PingTimeout  time.Duration
	StoreTimeout time.Duration
	LongTimeout  time.Duration
}
