package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/agentgraph/graph"
)

// MongoCheckpointStore keeps one document per checkpoint with the JSON
// payload alongside indexed lookup fields.
type MongoCheckpointStore struct {
	client    *mongo.Client
	coll      *mongo.Collection
	ownClient bool
}

type mongoCheckpointDoc struct {
	ID          string    `bson:"_id"`
	ExecutionID string    `bson:"execution_id"`
	GraphID     string    `bson:"graph_id"`
	NodeID      string    `bson:"node_id"`
	Sequence    int       `bson:"sequence"`
	CreatedAt   time.Time `bson:"created_at"`
	Payload     string    `bson:"payload"`
}

// NewMongoCheckpointStore connects to MongoDB and ensures the
// (execution_id, sequence) index exists.
func NewMongoCheckpointStore(ctx context.Context, cfg MongoStoreConfig) (*MongoCheckpointStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store, err := NewMongoCheckpointStoreWithClient(ctx, client, cfg.Database, cfg.Collection)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	store.ownClient = true
	return store, nil
}

// NewMongoCheckpointStoreWithClient uses an existing client. dbName defaults
// to "agentgraph" and collName to "checkpoints".
func NewMongoCheckpointStoreWithClient(ctx context.Context, client *mongo.Client, dbName, collName string) (*MongoCheckpointStore, error) {
	if dbName == "" {
		dbName = "agentgraph"
	}
	if collName == "" {
		collName = "checkpoints"
	}
	coll := client.Database(dbName).Collection(collName)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "execution_id", Value: 1}, {Key: "sequence", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint index: %w", err)
	}
	return &MongoCheckpointStore{client: client, coll: coll}, nil
}

// Ping checks if the store is healthy
func (s *MongoCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client if the store created it
func (s *MongoCheckpointStore) Close() error {
	if !s.ownClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Save inserts cp. Saving an id twice fails with ErrDuplicate.
func (s *MongoCheckpointStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, mongoCheckpointDoc{
		ID:          cp.ID,
		ExecutionID: cp.ExecutionID,
		GraphID:     cp.GraphID,
		NodeID:      cp.NodeID,
		Sequence:    cp.Sequence,
		CreatedAt:   cp.Timestamp,
		Payload:     string(data),
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, cp.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *MongoCheckpointStore) Load(ctx context.Context, checkpointID string) (*graph.Checkpoint, error) {
	var doc mongoCheckpointDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": checkpointID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint([]byte(doc.Payload))
}

// List returns an execution's checkpoints in creation order
func (s *MongoCheckpointStore) List(ctx context.Context, executionID string) ([]*graph.Checkpoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"execution_id": executionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var docs []mongoCheckpointDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoints: %w", err)
	}

	result := make([]*graph.Checkpoint, 0, len(docs))
	for _, doc := range docs {
		cp, err := decodeCheckpoint([]byte(doc.Payload))
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// DeleteExecution removes every checkpoint of an execution
func (s *MongoCheckpointStore) DeleteExecution(ctx context.Context, executionID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"execution_id": executionID}); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Ensure MongoCheckpointStore implements Store
var _ Store = (*MongoCheckpointStore)(nil)
