package databases

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// collectionIndexes lists the indexes the chat queries rely on, per collection
var collectionIndexes = map[string][]mongo.IndexModel{
	// history reads and transcripts
	chatMessageName: {
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	},
	// dashboard listing and the idle sweep
	chatSessionName: {
		{Keys: bson.D{{Key: "lastMessageAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lastMessageAt", Value: 1}}},
	},
	operatorName: {
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
}

// EnsureIndexes creates any missing index. Creating an index that already
// exists with the same definition is a no-op on the server.
func EnsureIndexes(ctx context.Context, db DatabaseHelper) error {
	for _, name := range []string{chatSessionName, chatMessageName, operatorName} {
		created, err := db.Collection(name).CreateIndexes(ctx, collectionIndexes[name])
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		zap.S().Debugw("indexes ensured", "collection", name, "indexes", created)
	}
	return nil
}
