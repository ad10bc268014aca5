// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	apistatsfeature "github.com/dalemusser/devsync/internal/app/features/apistats"
	executefeature "github.com/dalemusser/devsync/internal/app/features/execute"
	healthfeature "github.com/dalemusser/devsync/internal/app/features/health"
	realtimefeature "github.com/dalemusser/devsync/internal/app/features/realtime"
	roomapifeature "github.com/dalemusser/devsync/internal/app/features/roomapi"
	statusfeature "github.com/dalemusser/devsync/internal/app/features/status"
	"github.com/dalemusser/devsync/internal/app/system/apistats"
	"github.com/dalemusser/devsync/internal/app/system/auth"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/app/system/requestlog"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestTimeout bounds every route except the websocket, which lives as
// long as the connection.
const requestTimeout = 30 * time.Second

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed.
//
// Route layout:
//   - /api/room      room query, mutation, operator delete
//   - /api/realtime  channel authorization and the hub websocket
//   - /api/execute   code execution proxy
//   - /api/stats     request statistics (operator API key)
//   - /api/status    runtime and configuration report (operator API key)
//   - /health, /ready, /readyz, /livez
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"

	var tokens *auth.TokenVerifier
	if appCfg.JWTSecret != "" {
		tokens = auth.NewTokenVerifier(appCfg.JWTSecret, appCfg.AuthCookieName)
	}
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionMaxAge, secure, tokens, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	var recorder *apistats.Recorder
	if deps.Stats != nil {
		recorder = apistats.NewRecorder(deps.Stats, logger, appCfg.APIStatsBucket)
	}

	gw := gateway.New(deps.Rooms, deps.Dispatcher, logger, gateway.Options{
		ValidateTree: appCfg.ValidateFileTree,
	})

	r := chi.NewRouter()

	r.Use(requestlog.Middleware(requestlog.DefaultConfig(logger)))

	// CORS and security headers from WAFFLE core config. The API routers add
	// their own per-route CORS policy on top.
	r.Use(middleware.CORSFromConfig(coreCfg))
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// The hub websocket must not inherit the request timeout.
	var hubHandler http.Handler
	if deps.Hub != nil {
		hubHandler = deps.Hub
	}
	realtimeHandler := realtimefeature.NewHandler(sessionMgr, deps.Authorizer, hubHandler, logger)
	r.Mount("/api/realtime", realtimefeature.Routes(realtimeHandler, recorder, appCfg.AllowedOrigins))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))

		roomHandler := roomapifeature.NewHandler(gw, deps.Rooms, appCfg.MaxBodyBytes, logger)
		r.Mount("/api/room", roomapifeature.Routes(roomHandler, recorder, appCfg.AdminAPIKey, logger))

		executeHandler := executefeature.NewHandler(appCfg.ExecuteURL, appCfg.ExecuteTimeout, logger)
		r.Mount("/api/execute", executefeature.Routes(executeHandler, recorder))

		if deps.Stats != nil {
			statsHandler := apistatsfeature.NewHandler(deps.Stats, logger)
			r.Mount("/api/stats", apistatsfeature.Routes(statsHandler, appCfg.AdminAPIKey, logger))
		}

		statusHandler := statusfeature.NewHandler(deps.MongoClient, deps.Dispatcher, runningJobs(), coreCfg, statusConfig(appCfg), logger)
		r.Mount("/api/status", statusfeature.Routes(statusHandler, appCfg.AdminAPIKey, logger))

		healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Dispatcher, logger)
		r.Mount("/health", healthfeature.Routes(healthHandler))
		healthfeature.MountRootEndpoints(r, healthHandler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonutil.NotFound(w, "not found")
	})

	logger.Info("routes built",
		zap.String("room_store", appCfg.RoomStore),
		zap.String("broadcaster", deps.Broadcaster.Name()),
		zap.Bool("api_stats", recorder != nil),
		zap.Bool("signed_in_users", tokens != nil),
	)

	return r, nil
}

// runningJobs lists the background jobs started by Startup.
func runningJobs() []string {
	if taskRunner == nil {
		return nil
	}
	return taskRunner.Jobs()
}

func statusConfig(c AppConfig) statusfeature.AppConfig {
	return statusfeature.AppConfig{
		MongoURI:           c.MongoURI,
		MongoDatabase:      c.MongoDatabase,
		MongoMaxPoolSize:   c.MongoMaxPoolSize,
		MongoMinPoolSize:   c.MongoMinPoolSize,
		RoomStore:          c.RoomStore,
		SessionKey:         c.SessionKey,
		SessionName:        c.SessionName,
		SessionMaxAge:      c.SessionMaxAge,
		JWTSecret:          c.JWTSecret,
		Broadcaster:        c.Broadcaster,
		HubSecret:          c.HubSecret,
		PusherAppID:        c.PusherAppID,
		PusherKey:          c.PusherKey,
		PusherSecret:       c.PusherSecret,
		PusherCluster:      c.PusherCluster,
		BroadcastQueueSize: c.BroadcastQueueSize,
		ValidateFileTree:   c.ValidateFileTree,
		MaxBodyBytes:       c.MaxBodyBytes,
		ExecuteURL:         c.ExecuteURL,
		ExecuteTimeout:     c.ExecuteTimeout,
		RoomRetention:      c.RoomRetention,
		AdminAPIKey:        c.AdminAPIKey,
		AllowedOrigins:     c.AllowedOrigins,
		APIStatsEnabled:    c.APIStatsEnabled,
		APIStatsBucket:     c.APIStatsBucket,
		APIStatsRetention:  c.APIStatsRetention,
	}
}
