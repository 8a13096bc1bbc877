package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atillabyte/World/internal/object"
)

// MongoConfig contains connection settings for the MongoDB object store.
type MongoConfig struct {
	URI      string // e.g. mongodb://localhost:27017
	Database string // e.g. worlds
}

// MongoObjectStore implements ObjectSaver on MongoDB. Documents are keyed by _id;
// the _id field itself is not part of the returned object.
type MongoObjectStore struct {
	client     *mongo.Client
	db         *mongo.Database
	ctxTimeout time.Duration
}

// NewMongoObjectStore establishes connection and returns the store.
func NewMongoObjectStore(cfg MongoConfig) (*MongoObjectStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "worlds"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoObjectStore{
		client:     client,
		db:         client.Database(cfg.Database),
		ctxTimeout: 5 * time.Second,
	}, nil
}

// LoadObject implements ObjectStore.
func (m *MongoObjectStore) LoadObject(ctx context.Context, collection, id string) (*object.Object, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc bson.D
	err := m.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrObjectNotFound)
	}
	if err != nil {
		return nil, err
	}

	return FromBSON(doc)
}

// SaveObject replaces (or inserts) the document.
func (m *MongoObjectStore) SaveObject(ctx context.Context, collection, id string, doc *object.Object) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	body := append(bson.D{{Key: "_id", Value: id}}, ToBSON(doc.Without("_id"))...)
	_, err := m.db.Collection(collection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}}, body, options.Replace().SetUpsert(true))
	return err
}

// ListObjects returns document ids of a collection.
func (m *MongoObjectStore) ListObjects(ctx context.Context, collection string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	raw, err := m.db.Collection(collection).Distinct(ctx, "_id", bson.D{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Close disconnects the client.
func (m *MongoObjectStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// FromBSON converts a decoded BSON document into an ordered object, dropping _id.
func FromBSON(doc bson.D) (*object.Object, error) {
	o := object.New()
	for _, e := range doc {
		if e.Key == "_id" {
			continue
		}
		v, err := fromBSONValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		o.Set(e.Key, v)
	}
	return o, nil
}

func fromBSONValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case bson.D:
		return FromBSON(t)
	case bson.M:
		m := make(map[string]interface{}, len(t))
		for k, item := range t {
			iv, err := fromBSONValue(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			m[k] = iv
		}
		return object.FromMap(m)
	case bson.A:
		a := object.NewArray()
		for i, item := range t {
			iv, err := fromBSONValue(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			a.Append(iv)
		}
		return a, nil
	case primitive.Binary:
		return t.Data, nil
	case primitive.ObjectID:
		return t.Hex(), nil
	case primitive.DateTime:
		return int64(t), nil
	case primitive.Null, primitive.Undefined:
		return nil, nil
	case int32:
		return int64(t), nil
	default:
		return object.Normalize(v)
	}
}

// ToBSON converts an ordered object into a BSON document; byte buffers become binary.
func ToBSON(o *object.Object) bson.D {
	doc := make(bson.D, 0, o.Len())
	o.Range(func(k string, v interface{}) bool {
		doc = append(doc, bson.E{Key: k, Value: toBSONValue(v)})
		return true
	})
	return doc
}

func toBSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *object.Object:
		return ToBSON(t)
	case *object.Array:
		a := make(bson.A, 0, t.Len())
		for _, item := range t.Items() {
			a = append(a, toBSONValue(item))
		}
		return a
	case []byte:
		return primitive.Binary{Data: t}
	default:
		return v
	}
}
