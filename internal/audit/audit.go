package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lumipay/lumipay/internal/notification"
)

// Collection holds one document per consumed notification.
const Collection = "audit_logs"

// ErrMalformed marks a delivery whose body is not a notification.
var ErrMalformed = errors.New("malformed notification")

// Entry is the audit document stored for a consumed notification.
type Entry struct {
	ID           string            `bson:"_id"`
	RoutingKey   string            `bson:"routing_key"`
	Kind         string            `bson:"kind"`
	Destinations []string          `bson:"destinations"`
	Body         string            `bson:"body"`
	Attributes   map[string]string `bson:"attributes,omitempty"`
	OccurredAt   time.Time         `bson:"occurred_at"`
	ProcessedAt  time.Time         `bson:"processed_at"`
}

// Decode turns a delivery body into an entry. The kind falls back to the routing key suffix.
func Decode(routingKey string, body []byte) (Entry, error) {
	var msg notification.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Kind == "" {
		msg.Kind = strings.TrimPrefix(routingKey, notification.RoutingPrefix)
	}
	if msg.Kind == "" {
		return Entry{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	return Entry{
		ID:           uuid.NewString(),
		RoutingKey:   routingKey,
		Kind:         msg.Kind,
		Destinations: msg.Destinations,
		Body:         msg.Body,
		Attributes:   msg.Attributes,
		OccurredAt:   msg.OccurredAt,
	}, nil
}

// Store persists audit entries.
type Store interface {
	Save(ctx context.Context, entry Entry) error
}

// MongoStore writes entries to the audit collection.
type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoStore binds a store to the audit collection of database dbName.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{
		collection: client.Database(dbName).Collection(Collection),
		now:        time.Now,
	}
}

// Save stamps the processing time and inserts the entry.
func (s *MongoStore) Save(ctx context.Context, entry Entry) error {
	entry.ProcessedAt = s.now().UTC()
	if _, err := s.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
