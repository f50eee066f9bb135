package sessionstore

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/srs-writer/agent-engine/external"
)

// One mongo:7 container backs the whole package run; every test in the
// package skips when Docker is unavailable.
var (
	testMongoClient *mongo.Client
	skipMongoTests  bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var container testcontainers.Container
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("docker not available, mongo sessionstore tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
	} else {
		host, err := container.Host(ctx)
		if err != nil {
			fmt.Printf("failed to get container host: %v\n", err)
			skipMongoTests = true
		} else if port, err := container.MappedPort(ctx, "27017"); err != nil {
			fmt.Printf("failed to get container port: %v\n", err)
			skipMongoTests = true
		} else {
			uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
			testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
			if err != nil {
				fmt.Printf("failed to connect to mongo: %v\n", err)
				skipMongoTests = true
			} else if err := testMongoClient.Ping(ctx, nil); err != nil {
				fmt.Printf("failed to ping mongo: %v\n", err)
				skipMongoTests = true
			}
		}
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if container != nil {
		_ = container.Terminate(ctx)
	}

	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if skipMongoTests {
		t.Skip("docker not available, skipping mongo sessionstore test")
	}

	store, err := NewStore(context.Background(), Options{
		Client:     testMongoClient,
		Database:   "agent_engine_test",
		Collection: t.Name(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testMongoClient.Database("agent_engine_test").Collection(t.Name()).Drop(context.Background())
	})
	return store
}

func TestMongoStoreUpsertsSessionOnConstruction(t *testing.T) {
	store := newTestStore(t)

	session, err := store.GetCurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, store.sessionID, session.SessionContextID)
}

func TestMongoStoreUpdateSessionWithLogNotifiesObservers(t *testing.T) {
	store := newTestStore(t)

	var notified *external.SessionContext
	unsubscribe := store.Subscribe(observerFunc(func(ctx *external.SessionContext) { notified = ctx }))
	defer unsubscribe()

	err := store.UpdateSessionWithLog(context.Background(), external.SessionLogEntry{
		Type:      external.OperationToolExecutionEnd,
		Operation: "writeFile",
		ToolName:  "writeFile",
		Success:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, notified)
	assert.Equal(t, store.sessionID, notified.SessionContextID)
}

func TestMongoStoreUnsubscribeStopsNotifications(t *testing.T) {
	store := newTestStore(t)

	calls := 0
	unsubscribe := store.Subscribe(observerFunc(func(ctx *external.SessionContext) { calls++ }))
	unsubscribe()

	err := store.UpdateSessionWithLog(context.Background(), external.SessionLogEntry{
		Type:      external.OperationUserResponseReceived,
		Operation: "reply",
		Success:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

type observerFunc func(*external.SessionContext)

func (f observerFunc) OnSessionChanged(ctx *external.SessionContext) { f(ctx) }
