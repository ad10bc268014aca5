// Package testutil provides shared test helpers: a MongoDB database per
// test, JSON request helpers, and a recording publisher.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/indexes"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// TestDBURI is the MongoDB used when MongoURIEnv is unset.
	TestDBURI = "mongodb://localhost:27017"
	// MongoURIEnv names a MongoDB for tests. When it is set, an unreachable
	// server fails the test instead of skipping it.
	MongoURIEnv = "DEVSYNC_TEST_MONGO_URI"
	// TestDBName prefixes every per-test database.
	TestDBName = "devsync_test"

	// maxDBName is MongoDB's database name limit.
	maxDBName = 63
)

var (
	clientOnce sync.Once
	client     *mongo.Client
	clientErr  error
)

// sharedClient connects once for the whole test binary.
func sharedClient(uri string) (*mongo.Client, error) {
	clientOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, clientErr = mongo.Connect(ctx, options.Client().
			ApplyURI(uri).
			SetMaxPoolSize(100).
			SetMaxConnIdleTime(30*time.Second).
			SetServerSelectionTimeout(5*time.Second))
		if clientErr != nil {
			return
		}
		clientErr = client.Ping(ctx, nil)
	})
	return client, clientErr
}

// SetupTestDB returns an empty database named after the test, with the
// production indexes applied; schema validators are not. It is dropped on
// cleanup.
//
// Without MongoURIEnv the test is skipped when no local MongoDB answers, so
// the in-memory suites still run on machines without one.
func SetupTestDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri, required := os.LookupEnv(MongoURIEnv)
	if !required || uri == "" {
		uri, required = TestDBURI, false
	}
	c, err := sharedClient(uri)
	if err != nil {
		if required {
			t.Fatalf("connect to test MongoDB %s: %v", uri, err)
		}
		t.Skipf("MongoDB not available at %s (set %s to require it): %v", uri, MongoURIEnv, err)
	}

	db := c.Database(DBName(t.Name()))

	ctx, cancel := TestContext()
	defer cancel()
	if err := db.Drop(ctx); err != nil {
		t.Fatalf("drop test database: %v", err)
	}
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("create indexes: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Drop(ctx); err != nil {
			t.Logf("drop test database on cleanup: %v", err)
		}
	})

	return db
}

// DBName derives a database name from a test name. Characters MongoDB
// rejects become underscores and the result is cut to its length limit.
func DBName(testName string) string {
	name := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			return c
		}
		return '_'
	}, testName)
	full := fmt.Sprintf("%s_%s", TestDBName, name)
	if len(full) > maxDBName {
		full = full[:maxDBName]
	}
	return full
}

// TestContext returns a context with a reasonable timeout for test operations.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
