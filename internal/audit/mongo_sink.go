package audit

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// inserter is the part of *mongo.Collection the sink needs.
type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink appends violations to a MongoDB collection.
type MongoSink struct {
	col inserter
}

func NewMongoSink(col *mongo.Collection) *MongoSink {
	if col == nil {
		return &MongoSink{}
	}
	return &MongoSink{col: col}
}

// ConnectMongoSink dials uri and returns a sink writing to
// database.collection together with a function disconnecting the client.
func ConnectMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoSink(client.Database(database).Collection(collection)), client.Disconnect, nil
}

func (s *MongoSink) Record(ctx context.Context, v Violation) error {
	if s == nil || s.col == nil {
		return errors.New("mongo audit sink has no collection")
	}
	if _, err := s.col.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("insert violation for %q: %w", v.Identifier, err)
	}
	return nil
}
