// internal/app/features/status/handler.go
package status

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/certcheck"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var startTime = time.Now()

// Handler serves the operator status report.
type Handler struct {
	Client     *mongo.Client // nil with the memory room store
	Dispatcher *broadcast.Dispatcher
	Jobs       []string
	Log        *zap.Logger
	CoreCfg    *config.CoreConfig
	AppCfg     AppConfig
	certs      certcheck.Checker
}

// AppConfig mirrors the bootstrap.AppConfig fields shown in the report.
type AppConfig struct {
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64
	RoomStore        string

	SessionKey    string
	SessionName   string
	SessionMaxAge time.Duration
	JWTSecret     string

	Broadcaster        string
	HubSecret          string
	PusherAppID        string
	PusherKey          string
	PusherSecret       string
	PusherCluster      string
	BroadcastQueueSize int

	ValidateFileTree bool
	MaxBodyBytes     int64
	ExecuteURL       string
	ExecuteTimeout   time.Duration
	RoomRetention    time.Duration
	AdminAPIKey      string
	AllowedOrigins   []string

	APIStatsEnabled   bool
	APIStatsBucket    time.Duration
	APIStatsRetention time.Duration
}

// NewHandler creates a status Handler.
func NewHandler(client *mongo.Client, dispatcher *broadcast.Dispatcher, jobs []string, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) *Handler {
	return &Handler{
		Client:     client,
		Dispatcher: dispatcher,
		Jobs:       jobs,
		CoreCfg:    coreCfg,
		AppCfg:     appCfg,
		Log:        logger,
	}
}

// ConfigItem is a single configuration value, masked when secret.
type ConfigItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigGroup is a logical group of configuration items.
type ConfigGroup struct {
	Name  string       `json:"name"`
	Items []ConfigItem `json:"items"`
}

// DatabaseStatus reports the MongoDB connection.
type DatabaseStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	PingMs    int64  `json:"pingMs,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BroadcastStatus reports the broadcaster and its queue.
type BroadcastStatus struct {
	Backend string                  `json:"backend"`
	Queue   broadcast.DispatchStats `json:"queue"`
}

// Report is the GET /api/status response.
type Report struct {
	GoVersion    string              `json:"goVersion"`
	Uptime       string              `json:"uptime"`
	NumGoroutine int                 `json:"numGoroutine"`
	MemAlloc     string              `json:"memAlloc"`
	Database     DatabaseStatus      `json:"database"`
	Broadcast    *BroadcastStatus    `json:"broadcast,omitempty"`
	Jobs         []string            `json:"jobs"`
	Certificate  *certcheck.CertInfo `json:"certificate,omitempty"`
	Config       []ConfigGroup       `json:"config"`
}

// Serve handles GET /api/status.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	jobs := h.Jobs
	if jobs == nil {
		jobs = []string{}
	}
	rep := Report{
		GoVersion:    runtime.Version(),
		Uptime:       formatDuration(time.Since(startTime)),
		NumGoroutine: runtime.NumGoroutine(),
		MemAlloc:     formatBytes(m.Alloc),
		Database:     h.checkDatabase(r.Context()),
		Jobs:         jobs,
		Config:       h.buildConfigGroups(),
	}

	if h.Dispatcher != nil {
		rep.Broadcast = &BroadcastStatus{
			Backend: h.Dispatcher.Backend().Name(),
			Queue:   h.Dispatcher.Stats(),
		}
	}

	if domain := h.tlsDomain(); domain != "" {
		info := h.certs.Check(r.Context(), domain)
		rep.Certificate = &info
	}

	jsonutil.JSON(w, http.StatusOK, rep)
}

func (h *Handler) checkDatabase(ctx context.Context) DatabaseStatus {
	if h.Client == nil {
		return DatabaseStatus{}
	}
	st := DatabaseStatus{Enabled: true}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Ping(), h.Log, "status ping")
	defer cancel()

	pingStart := time.Now()
	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		st.Error = err.Error()
		h.Log.Warn("status: database ping failed", zap.Error(err))
		return st
	}
	st.Connected = true
	st.PingMs = time.Since(pingStart).Milliseconds()

	var result bson.M
	if err := h.Client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&result); err == nil {
		if version, ok := result["version"].(string); ok {
			st.Version = version
		}
	}
	return st
}

// tlsDomain returns the domain whose certificate is reported, or "" when
// the server does not terminate TLS itself.
func (h *Handler) tlsDomain() string {
	if h.CoreCfg == nil || !h.CoreCfg.HTTP.UseHTTPS {
		return ""
	}
	if h.CoreCfg.TLS.Domain != "" {
		return h.CoreCfg.TLS.Domain
	}
	if len(h.CoreCfg.TLS.Domains) > 0 {
		return h.CoreCfg.TLS.Domains[0]
	}
	return ""
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return formatPlural(days, "day") + " " + formatPlural(hours, "hour")
	}
	if hours > 0 {
		return formatPlural(hours, "hour") + " " + formatPlural(minutes, "min")
	}
	return formatPlural(minutes, "min")
}

func formatPlural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// formatBytes formats bytes with binary units.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// mask hides all but the ends of a secret.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskURI hides the password in a connection string.
func maskURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return uri
	}
	creds := uri[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return uri[:scheme+3] + user + ":****" + uri[at:]
	}
	return uri
}

// buildConfigGroups lists the effective configuration with secrets masked.
func (h *Handler) buildConfigGroups() []ConfigGroup {
	boolStr := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}
	c := h.AppCfg

	var groups []ConfigGroup
	if h.CoreCfg != nil {
		groups = append(groups, ConfigGroup{
			Name: "Environment",
			Items: []ConfigItem{
				{Name: "env", Value: h.CoreCfg.Env},
				{Name: "log_level", Value: h.CoreCfg.LogLevel},
				{Name: "http_port", Value: fmt.Sprintf("%d", h.CoreCfg.HTTP.HTTPPort)},
				{Name: "use_https", Value: boolStr(h.CoreCfg.HTTP.UseHTTPS)},
				{Name: "enable_cors", Value: boolStr(h.CoreCfg.CORS.EnableCORS)},
			},
		})
	}

	groups = append(groups,
		ConfigGroup{
			Name: "Room Store",
			Items: []ConfigItem{
				{Name: "room_store", Value: c.RoomStore},
				{Name: "mongo_uri", Value: maskURI(c.MongoURI)},
				{Name: "mongo_database", Value: c.MongoDatabase},
				{Name: "mongo_max_pool_size", Value: fmt.Sprintf("%d", c.MongoMaxPoolSize)},
				{Name: "mongo_min_pool_size", Value: fmt.Sprintf("%d", c.MongoMinPoolSize)},
				{Name: "room_retention", Value: c.RoomRetention.String()},
			},
		},
		ConfigGroup{
			Name: "Identity",
			Items: []ConfigItem{
				{Name: "session_key", Value: mask(c.SessionKey)},
				{Name: "session_name", Value: c.SessionName},
				{Name: "session_max_age", Value: c.SessionMaxAge.String()},
				{Name: "jwt_secret", Value: mask(c.JWTSecret)},
				{Name: "admin_api_key", Value: mask(c.AdminAPIKey)},
			},
		},
		ConfigGroup{
			Name: "Broadcast",
			Items: []ConfigItem{
				{Name: "broadcaster", Value: c.Broadcaster},
				{Name: "hub_secret", Value: mask(c.HubSecret)},
				{Name: "pusher_app_id", Value: c.PusherAppID},
				{Name: "pusher_key", Value: c.PusherKey},
				{Name: "pusher_secret", Value: mask(c.PusherSecret)},
				{Name: "pusher_cluster", Value: c.PusherCluster},
				{Name: "broadcast_queue_size", Value: fmt.Sprintf("%d", c.BroadcastQueueSize)},
				{Name: "allowed_origins", Value: strings.Join(c.AllowedOrigins, ", ")},
			},
		},
		ConfigGroup{
			Name: "Gateway",
			Items: []ConfigItem{
				{Name: "validate_file_tree", Value: boolStr(c.ValidateFileTree)},
				{Name: "max_body_bytes", Value: fmt.Sprintf("%d", c.MaxBodyBytes)},
				{Name: "execute_url", Value: c.ExecuteURL},
				{Name: "execute_timeout", Value: c.ExecuteTimeout.String()},
			},
		},
		ConfigGroup{
			Name: "API Stats",
			Items: []ConfigItem{
				{Name: "api_stats_enabled", Value: boolStr(c.APIStatsEnabled)},
				{Name: "api_stats_bucket", Value: c.APIStatsBucket.String()},
				{Name: "api_stats_retention", Value: c.APIStatsRetention.String()},
			},
		},
	)
	return groups
}
