// internal/app/bootstrap/hooks.go
package bootstrap

import (
	"github.com/dalemusser/waffle/app"
)

// Hooks wires this app into the WAFFLE lifecycle.
// Each function is called in order by app.Run, from configuration
// loading through DB setup, one-time startup work, HTTP handler
// construction, and finally graceful shutdown.
var Hooks = app.Hooks[AppConfig, DBDeps]{
	Name:           "devsync",      // used only for logging/diagnostics
	LoadConfig:     LoadConfig,     // load core + app config
	ValidateConfig: ValidateConfig, // room store, broadcaster, Pusher credentials
	ConnectDB:      ConnectDB,      // MongoDB (or memory) + broadcaster
	EnsureSchema:   EnsureSchema,   // collections, validators, indexes
	Startup:        Startup,        // timeouts, retention sweeps
	BuildHandler:   BuildHandler,   // build the HTTP router + middleware stack
	Shutdown:       Shutdown,       // drain broadcasts, disconnect MongoDB
}
