// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/inputval"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "DEVSYNC"

// Room store choices.
const (
	RoomStoreMongo  = "mongo"
	RoomStoreMemory = "memory"
)

// Broadcaster choices.
const (
	BroadcasterHub    = "hub"
	BroadcasterPusher = "pusher"
	BroadcasterNone   = "none"
)

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, broadcaster, etc.
//   - Environment variables: DEVSYNC_MONGO_URI, DEVSYNC_BROADCASTER, etc.
//   - Command-line flags: --mongo_uri, --broadcaster, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "devsync", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "room_store", Default: RoomStoreMongo, Desc: "Room persistence: 'mongo' or 'memory'"},

	// Identity
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Guest session signing key (must be strong in production)"},
	{Name: "session_name", Default: "devsync-session", Desc: "Guest session cookie name"},
	{Name: "session_max_age", Default: "720h", Desc: "Guest session cookie max age (e.g., 24h, 720h)"},
	{Name: "jwt_secret", Default: "", Desc: "HS256 secret for signed-in user tokens (empty: everyone is a guest)"},
	{Name: "auth_cookie_name", Default: "auth_token", Desc: "Cookie carrying the signed-in user token"},

	// Broadcasting
	{Name: "broadcaster", Default: BroadcasterHub, Desc: "Broadcast backend: 'hub', 'pusher', or 'none'"},
	{Name: "hub_secret", Default: "dev-only-hub-secret-change-me-0123456789", Desc: "Channel signing secret for the built-in hub"},
	{Name: "pusher_app_id", Default: "", Desc: "Pusher app ID"},
	{Name: "pusher_key", Default: "", Desc: "Pusher key"},
	{Name: "pusher_secret", Default: "", Desc: "Pusher secret"},
	{Name: "pusher_cluster", Default: "us2", Desc: "Pusher cluster"},
	{Name: "broadcast_queue_size", Default: 1024, Desc: "Pending broadcast queue length; overflow is dropped"},

	// Sync gateway
	{Name: "validate_file_tree", Default: true, Desc: "Reject structurally inconsistent file trees"},
	{Name: "max_body_bytes", Default: 5 << 20, Desc: "Max room mutation body size in bytes"},

	// Code execution
	{Name: "execute_url", Default: "https://emkc.org/api/v2/piston/execute", Desc: "Code execution API endpoint"},
	{Name: "execute_timeout", Default: "15s", Desc: "Code execution request timeout"},

	// Operations
	{Name: "room_retention", Default: "0", Desc: "Delete rooms idle longer than this (0 disables, e.g., 720h)"},
	{Name: "admin_api_key", Default: "", Desc: "Bearer key for operator endpoints (empty disables them)"},
	{Name: "allowed_origins", Default: "", Desc: "Comma-separated websocket origins (empty allows any)"},

	// API stats configuration
	{Name: "api_stats_enabled", Default: true, Desc: "Record room API request statistics (mongo store only)"},
	{Name: "api_stats_bucket", Default: "1h", Desc: "API stats bucket duration (e.g., '1m', '15m', '1h', '24h')"},
	{Name: "api_stats_retention", Default: "720h", Desc: "Delete API stats buckets older than this (0 keeps them)"},

	// Timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Health check ping timeout"},
	{Name: "timeout_store", Default: "5s", Desc: "Single room store operation timeout"},
	{Name: "timeout_long", Default: "30s", Desc: "Background sweep timeout"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, DEVSYNC_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		RoomStore:        strings.ToLower(strings.TrimSpace(appValues.String("room_store"))),

		SessionKey:     appValues.String("session_key"),
		SessionName:    appValues.String("session_name"),
		SessionMaxAge:  appValues.Duration("session_max_age", 720*time.Hour),
		JWTSecret:      appValues.String("jwt_secret"),
		AuthCookieName: appValues.String("auth_cookie_name"),

		Broadcaster:        strings.ToLower(strings.TrimSpace(appValues.String("broadcaster"))),
		HubSecret:          appValues.String("hub_secret"),
		PusherAppID:        appValues.String("pusher_app_id"),
		PusherKey:          appValues.String("pusher_key"),
		PusherSecret:       appValues.String("pusher_secret"),
		PusherCluster:      appValues.String("pusher_cluster"),
		BroadcastQueueSize: appValues.Int("broadcast_queue_size"),

		ValidateFileTree: appValues.Bool("validate_file_tree"),
		MaxBodyBytes:     int64(appValues.Int("max_body_bytes")),

		ExecuteURL:     appValues.String("execute_url"),
		ExecuteTimeout: appValues.Duration("execute_timeout", 15*time.Second),

		RoomRetention:  appValues.Duration("room_retention", 0),
		AdminAPIKey:    appValues.String("admin_api_key"),
		AllowedOrigins: splitList(appValues.String("allowed_origins")),

		APIStatsEnabled:   appValues.Bool("api_stats_enabled"),
		APIStatsBucket:    appValues.Duration("api_stats_bucket", time.Hour),
		APIStatsRetention: appValues.Duration("api_stats_retention", 720*time.Hour),

		PingTimeout:  appValues.Duration("timeout_ping", timeouts.DefaultPing),
		StoreTimeout: appValues.Duration("timeout_store", timeouts.DefaultStore),
		LongTimeout:  appValues.Duration("timeout_long", timeouts.DefaultLong),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	var problems []error

	switch appCfg.RoomStore {
	case RoomStoreMongo:
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			problems = append(problems, fmt.Errorf("invalid MongoDB URI: %w", err))
		}
	case RoomStoreMemory:
		logger.Warn("room_store=memory: rooms are lost on restart")
	default:
		problems = append(problems, fmt.Errorf("room_store must be %q or %q, got %q", RoomStoreMongo, RoomStoreMemory, appCfg.RoomStore))
	}

	switch appCfg.Broadcaster {
	case BroadcasterHub:
		if appCfg.HubSecret == "" {
			problems = append(problems, errors.New("hub_secret is required when broadcaster=hub"))
		}
	case BroadcasterPusher:
		var missing []string
		for _, kv := range [][2]string{
			{"pusher_app_id", appCfg.PusherAppID},
			{"pusher_key", appCfg.PusherKey},
			{"pusher_secret", appCfg.PusherSecret},
		} {
			if kv[1] == "" {
				missing = append(missing, kv[0])
			}
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Errorf("broadcaster=pusher requires %s", strings.Join(missing, ", ")))
		}
	case BroadcasterNone:
		logger.Warn("broadcaster=none: participants will not see each other's edits live")
	default:
		problems = append(problems, fmt.Errorf("broadcaster must be %q, %q, or %q, got %q",
			BroadcasterHub, BroadcasterPusher, BroadcasterNone, appCfg.Broadcaster))
	}

	if appCfg.BroadcastQueueSize <= 0 {
		problems = append(problems, fmt.Errorf("broadcast_queue_size must be positive, got %d", appCfg.BroadcastQueueSize))
	}
	if appCfg.MaxBodyBytes < 0 {
		problems = append(problems, fmt.Errorf("max_body_bytes must not be negative, got %d", appCfg.MaxBodyBytes))
	}
	if appCfg.RoomRetention < 0 {
		problems = append(problems, errors.New("room_retention must not be negative"))
	}
	if appCfg.ExecuteURL != "" && !inputval.IsValidHTTPURL(appCfg.ExecuteURL) {
		problems = append(problems, fmt.Errorf("execute_url must be an http or https URL, got %q", appCfg.ExecuteURL))
	}

	return errors.Join(problems...)
}

// splitList splits a comma-separated config value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
