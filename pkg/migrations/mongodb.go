package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoIndexes creates the workflow collection indexes. Collections
// themselves are created on first insert.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"hold_stop_workflows": {
			{
				Keys:    bson.D{{Key: "declaration_id", Value: 1}},
				Options: options.Index().SetName("idx_workflows_declaration"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("idx_workflows_status_expires"),
			},
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
				Options: options.Index().SetName("idx_workflows_created"),
			},
		},
		"workflow_actions": {
			{
				Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("idx_workflow_actions_workflow"),
			},
			{
				Keys:    bson.D{{Key: "declaration_id", Value: 1}},
				Options: options.Index().SetName("idx_workflow_actions_declaration"),
			},
		},
	}

	for collection, models := range indexes {
		_, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
