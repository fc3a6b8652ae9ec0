package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultMongoCollection = "mlicense_issuances"
	defaultMongoDatabase   = "mlicense"
)

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a MongoLedger.
type MongoOption func(*MongoLedger)

// WithCollectionName sets the MongoDB collection name. Default: "mlicense_issuances".
func WithCollectionName(name string) MongoOption {
	return func(l *MongoLedger) {
		l.collectionName = name
	}
}

// MongoLedger implements Ledger using MongoDB.
type MongoLedger struct {
	collection     *mongo.Collection
	collectionName string
	client         *mongo.Client // set only when the ledger owns the connection
}

// NewMongoLedger creates a MongoDB-backed ledger on a caller-managed
// database. It creates the necessary indexes on initialization.
func NewMongoLedger(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoLedger, error) {
	l := &MongoLedger{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(l)
	}
	if !validCollectionName.MatchString(l.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", l.collectionName)
	}
	l.collection = db.Collection(l.collectionName)

	if err := l.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return l, nil
}

func openMongo(ctx context.Context, uri, database string) (*MongoLedger, error) {
	if database == "" {
		database = defaultMongoDatabase
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	l, err := NewMongoLedger(ctx, client.Database(database))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	l.client = client
	return l, nil
}

func (l *MongoLedger) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "signature", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "machine_id", Value: 1},
				{Key: "recorded_at", Value: 1},
			},
		},
	}
	_, err := l.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Record inserts rec, or returns the existing record when the signature
// is already stored.
func (l *MongoLedger) Record(ctx context.Context, rec IssuanceRecord) (*IssuanceRecord, error) {
	filter := bson.M{"signature": rec.Signature}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":         rec.ID,
			"machine_id":  rec.MachineID,
			"username":    rec.Username,
			"issued_at":   rec.IssuedAt,
			"expires_at":  rec.ExpiresAt,
			"recorded_at": rec.RecordedAt,
		},
	}

	// ReturnDocument=After yields the stored document, so a repeated
	// signature returns the original record.
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var stored IssuanceRecord
	err := l.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("record issuance: %w", err)
	}
	return &stored, nil
}

// Lookup returns the record with the given signature, or ErrNotFound.
func (l *MongoLedger) Lookup(ctx context.Context, signature string) (*IssuanceRecord, error) {
	var rec IssuanceRecord
	err := l.collection.FindOne(ctx, bson.M{"signature": signature}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup issuance: %w", err)
	}
	return &rec, nil
}

// ListByMachine returns the records for machineID, oldest first.
func (l *MongoLedger) ListByMachine(ctx context.Context, machineID string) ([]IssuanceRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := l.collection.Find(ctx, bson.M{"machine_id": machineID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list issuances: %w", err)
	}
	var recs []IssuanceRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode issuances: %w", err)
	}
	return recs, nil
}

// Count returns how many licenses were recorded for machineID.
func (l *MongoLedger) Count(ctx context.Context, machineID string) (int, error) {
	count, err := l.collection.CountDocuments(ctx, bson.M{"machine_id": machineID})
	if err != nil {
		return 0, fmt.Errorf("count issuances: %w", err)
	}
	return int(count), nil
}

// Close disconnects the client when the ledger opened it.
func (l *MongoLedger) Close(ctx context.Context) error {
	if l.client == nil {
		return nil // caller manages the mongo.Database lifecycle
	}
	return l.client.Disconnect(ctx)
}
