// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	roomstore "github.com/dalemusser/devsync/internal/app/store/rooms"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/indexes"
	"github.com/dalemusser/devsync/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB (unless rooms are kept in memory) and builds
// the broadcast backend.
//
// WAFFLE calls this after configuration is loaded but before EnsureSchema
// and Startup.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	var deps DBDeps

	switch appCfg.RoomStore {
	case RoomStoreMemory:
		deps.Rooms = roomstore.NewMemory()
		logger.Info("using in-memory room store")

	default:
		// Configure MongoDB connection pool
		poolCfg := wafflemongo.DefaultPoolConfig()
		if appCfg.MongoMaxPoolSize > 0 {
			poolCfg.MaxPoolSize = appCfg.MongoMaxPoolSize
		}
		if appCfg.MongoMinPoolSize > 0 {
			poolCfg.MinPoolSize = appCfg.MongoMinPoolSize
		}

		client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
		if err != nil {
			return DBDeps{}, err
		}
		db := client.Database(appCfg.MongoDatabase)

		logger.Info("connected to MongoDB",
			zap.String("database", appCfg.MongoDatabase),
			zap.Uint64("max_pool_size", poolCfg.MaxPoolSize),
			zap.Uint64("min_pool_size", poolCfg.MinPoolSize),
		)

		deps.MongoClient = client
		deps.MongoDatabase = db
		deps.Rooms = roomstore.New(db)
		if appCfg.APIStatsEnabled {
			deps.Stats = apistatsstore.New(db)
		}
	}

	b, authz, hub, err := newBroadcaster(appCfg, logger)
	if err != nil {
		if deps.MongoClient != nil {
			_ = deps.MongoClient.Disconnect(ctx)
		}
		return DBDeps{}, err
	}
	deps.Broadcaster = b
	deps.Authorizer = authz
	deps.Hub = hub
	deps.Dispatcher = broadcast.NewDispatcher(b, appCfg.BroadcastQueueSize, logger)

	logger.Info("initialized broadcaster",
		zap.String("backend", b.Name()),
		zap.Int("queue_size", appCfg.BroadcastQueueSize),
	)

	return deps, nil
}

// newBroadcaster builds the backend chosen by the broadcaster key. The hub
// and Pusher backends also sign channel subscriptions.
func newBroadcaster(appCfg AppConfig, logger *zap.Logger) (broadcast.Broadcaster, broadcast.Authorizer, *broadcast.Hub, error) {
	switch appCfg.Broadcaster {
	case BroadcasterHub:
		hub := broadcast.NewHub(appCfg.HubSecret, appCfg.AllowedOrigins, logger)
		return hub, hub, hub, nil
	case BroadcasterPusher:
		p := broadcast.NewPusher(broadcast.PusherConfig{
			AppID:   appCfg.PusherAppID,
			Key:     appCfg.PusherKey,
			Secret:  appCfg.PusherSecret,
			Cluster: appCfg.PusherCluster,
		}, logger)
		return p, p, nil, nil
	case BroadcasterNone:
		return broadcast.Nop{}, nil, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown broadcaster: %s", appCfg.Broadcaster)
	}
}

// EnsureSchema creates collections, validators, and indexes.
//
// This runs after ConnectDB succeeds but before Startup and before the HTTP
// handler is built. It is a no-op for the memory store.
//
// The context has a timeout based on coreCfg.IndexBootTimeout, so long-running
// migrations should respect context cancellation.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase
	if db == nil {
		return nil
	}

	// Ensure collections exist and attach JSON-Schema validators.
	// This runs first so indexes can be created on existing collections.
	logger.Info("ensuring collections and validators")
	if err := validators.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure validators", zap.Error(err))
		return err
	}

	logger.Info("ensuring database indexes")
	if err := indexes.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure indexes", zap.Error(err))
		return err
	}

	logger.Info("database schema ensured successfully")
	return nil
}
