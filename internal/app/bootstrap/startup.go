// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/devsync/internal/app/system/tasks"
	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are complete,
// but before the HTTP handler is built and requests are served.
//
// It applies the configured timeouts and starts the background sweeps.
// Returning a non-nil error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{
		Ping:  appCfg.PingTimeout,
		Store: appCfg.StoreTimeout,
		Long:  appCfg.LongTimeout,
	})

	taskRunner = newTaskRunner(appCfg, deps, logger)
	taskRunner.Start()

	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// newTaskRunner registers the retention sweeps that the config enables.
func newTaskRunner(appCfg AppConfig, deps DBDeps, logger *zap.Logger) *tasks.Runner {
	runner := tasks.New(logger)

	if appCfg.RoomRetention > 0 {
		runner.Register(tasks.RoomRetentionJob(deps.Rooms, appCfg.RoomRetention, logger))
	}
	if deps.Stats != nil && appCfg.APIStatsRetention > 0 {
		runner.Register(tasks.StatsRetentionJob(deps.Stats, appCfg.APIStatsRetention, logger))
	}

	return runner
}
