package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the stores.
const (
	ConversationCollection = "conversation"
	TransmitterCollection  = "transmitter_sessions"
)

// ErrNoIdentifier is returned when an operation requires at least one
// non-empty transmitter identifier and none was supplied.
var ErrNoIdentifier = errors.New("repository: no transmitter identifier provided")

// collectionAPI is the minimal MongoDB collection interface required by the
// stores. *mongo.Collection satisfies it; defined here for testability.
type collectionAPI interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Connect opens a MongoDB client for the given URI and verifies the
// connection with a ping. The client is a process-wide long-lived resource;
// callers own its lifecycle.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("repository: ping: %w", err)
	}
	return client, nil
}

var timeNow = time.Now

// nowISO returns the current UTC time in ISO-8601 form. Lexicographic order
// of these strings is chronological order.
func nowISO() string {
	return timeNow().UTC().Format(time.RFC3339Nano)
}

// nowHour returns the current UTC wall-clock time as HH:MM:SS.
func nowHour() string {
	return timeNow().UTC().Format("15:04:05")
}

// newDocumentID builds an id from the millisecond timestamp plus a
// four-digit random suffix. Not collision-proof, but the probability of two
// ids sharing a millisecond and a suffix is negligible for this domain.
var newDocumentID = func() string {
	return fmt.Sprintf("%d%d", timeNow().UnixMilli(), rand.Intn(9000)+1000)
}
