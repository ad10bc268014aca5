// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown is invoked during WAFFLE's shutdown phase, after the HTTP server
// has stopped accepting requests and in-flight requests have drained.
//
// Order matters: pending broadcasts are flushed before the broadcaster
// closes, and the room store stays connected until the background sweeps
// have stopped.
//
// The context provided has a timeout and should be respected.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if taskRunner != nil {
		logger.Info("stopping background task runner")
		if err := taskRunner.Stop(ctx); err != nil {
			logger.Warn("background task runner did not stop cleanly", zap.Error(err))
			keep(err)
		}
	}

	if deps.Dispatcher != nil {
		logger.Info("draining broadcast queue", zap.Int("pending", deps.Dispatcher.Stats().Pending))
		if err := deps.Dispatcher.Close(ctx); err != nil {
			logger.Warn("broadcast queue did not drain", zap.Error(err))
			keep(err)
		}
	}

	if deps.Broadcaster != nil {
		if err := deps.Broadcaster.Close(); err != nil {
			logger.Warn("broadcaster close failed", zap.Error(err))
			keep(err)
		}
	}

	// Disconnect MongoDB client
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			keep(err)
		}
	}

	return firstErr
}
