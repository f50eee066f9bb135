// Package sessionstore provides a MongoDB-backed external.SessionStore:
// an upsert-by-ID persistence model with a 5s per-operation timeout behind
// the GetCurrentSession/UpdateSessionWithLog/Subscribe contract.
package sessionstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/srs-writer/agent-engine/external"
)

const (
	defaultCollection = "agent_sessions"
	defaultTimeout    = 5 * time.Second
)

// sessionDoc is the Mongo document backing one session, narrowed to the
// fields core reads back.
type sessionDoc struct {
	SessionID   string    `bson:"session_id"`
	ProjectName string    `bson:"project_name"`
	BaseDir     string    `bson:"base_dir"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
	Log         []bson.M  `bson:"log"`
}

// Store implements external.SessionStore against a MongoDB collection.
type Store struct {
	coll      *mongo.Collection
	timeout   time.Duration
	sessionID string

	mu        sync.RWMutex
	observers map[int]external.SessionObserver
	nextID    int
}

// Options configures a Store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
	// SessionID pins the store to one session document; when empty, a new
	// identifier is minted with google/uuid.
	SessionID string
}

// NewStore builds a Store, ensuring the session document exists.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("sessionstore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("sessionstore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s := &Store{
		coll:      opts.Client.Database(opts.Database).Collection(collName),
		timeout:   timeout,
		sessionID: sessionID,
		observers: make(map[int]external.SessionObserver),
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	now := time.Now().UTC()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": now,
			"updated_at": now,
		},
	}
	if _, err := s.coll.UpdateOne(cctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return nil, err
	}
	return s, nil
}

// GetCurrentSession implements external.SessionStore.
func (s *Store) GetCurrentSession(ctx context.Context) (*external.SessionContext, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc sessionDoc
	err := s.coll.FindOne(cctx, bson.M{"session_id": s.sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &external.SessionContext{
		SessionContextID: doc.SessionID,
		ProjectName:      doc.ProjectName,
		BaseDir:          doc.BaseDir,
		Metadata:         external.SessionMetadata{LastModified: doc.UpdatedAt.Unix()},
	}, nil
}

// UpdateSessionWithLog implements external.SessionStore by appending entry
// to the session's log array and bumping updated_at, then notifying
// observers with the refreshed session.
func (s *Store) UpdateSessionWithLog(ctx context.Context, entry external.SessionLogEntry) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	logEntry := bson.M{
		"type":           string(entry.Type),
		"operation":      entry.Operation,
		"tool_name":      entry.ToolName,
		"success":        entry.Success,
		"execution_time": entry.ExecutionTime,
		"error":          entry.Error,
		"at":             now,
	}
	filter := bson.M{"session_id": s.sessionID}
	update := bson.M{
		"$push": bson.M{"log": logEntry},
		"$set":  bson.M{"updated_at": now},
	}
	if _, err := s.coll.UpdateOne(cctx, filter, update); err != nil {
		return err
	}

	updated, err := s.GetCurrentSession(ctx)
	if err != nil {
		return nil // the write succeeded; a read-back failure shouldn't fail the log
	}
	s.notify(updated)
	return nil
}

// Subscribe implements external.SessionStore.
func (s *Store) Subscribe(observer external.SessionObserver) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.observers[id] = observer
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(ctx *external.SessionContext) {
	s.mu.RLock()
	observers := make([]external.SessionObserver, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.RUnlock()
	for _, o := range observers {
		o.OnSessionChanged(ctx)
	}
}
