// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"context"
	"time"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/app/system/gateway"
	"go.mongodb.org/mongo-driver/mongo"
)

// RoomStore is the room persistence shared by the gateway, the operator
// delete endpoint, and the retention job. Both the Mongo and the memory
// store satisfy it.
type RoomStore interface {
	gateway.Store
	Delete(ctx context.Context, roomID string) error
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DBDeps holds database and backend dependencies for this WAFFLE app.
//
// This struct is created in ConnectDB and passed to subsequent lifecycle
// hooks: EnsureSchema, Startup, BuildHandler, and Shutdown. The Shutdown
// hook closes these in reverse order of use.
type DBDeps struct {
	// MongoDB client and database. Both are nil when room_store=memory.
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Rooms is the room store selected by room_store.
	Rooms RoomStore

	// Broadcaster is the selected realtime backend. Dispatcher queues
	// events in front of it so writes never wait on delivery.
	Broadcaster broadcast.Broadcaster
	Dispatcher  *broadcast.Dispatcher

	// Authorizer signs private and presence subscriptions. Nil when
	// broadcaster=none.
	Authorizer broadcast.Authorizer

	// Hub is the built-in websocket broker. Nil unless broadcaster=hub.
	Hub *broadcast.Hub

	// Stats stores API request statistics. Nil when room_store=memory or
	// stats are disabled.
	Stats *apistatsstore.Store
}
