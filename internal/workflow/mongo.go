package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"revguard/pkg/metrics"
)

const (
	MongoWorkflowsCollection = "hold_stop_workflows"
	MongoActionsCollection   = "workflow_actions"
)

// MongoRepository writes the snapshot and its action entry in one
// multi-document transaction, so the deployment must be a replica set.
type MongoRepository struct {
	client    *mongo.Client
	workflows *mongo.Collection
	actions   *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		client:    db.Client(),
		workflows: db.Collection(MongoWorkflowsCollection),
		actions:   db.Collection(MongoActionsCollection),
	}
}

func (r *MongoRepository) Create(ctx context.Context, wf *Workflow, entry ActionEntry) (err error) {
	defer func() { metrics.IncDatabaseQuery("workflow_mongodb", "create", queryStatus(err)) }()

	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.workflows.InsertOne(sc, wf); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("workflow %s already exists: %w", wf.ID, err)
			}
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		if _, err := r.actions.InsertOne(sc, entry); err != nil {
			return fmt.Errorf("failed to append workflow action: %w", err)
		}
		return nil
	})
}

func (r *MongoRepository) Update(ctx context.Context, wf *Workflow, expectedVersion int, entry ActionEntry) (err error) {
	defer func() { metrics.IncDatabaseQuery("workflow_mongodb", "update", queryStatus(err)) }()

	next := wf.clone()
	next.Version = expectedVersion + 1

	err = r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.workflows.ReplaceOne(sc, bson.M{"_id": wf.ID, "version": expectedVersion}, next)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		if res.MatchedCount == 0 {
			count, err := r.workflows.CountDocuments(sc, bson.M{"_id": wf.ID})
			if err != nil {
				return fmt.Errorf("failed to check workflow: %w", err)
			}
			if count == 0 {
				return notFound(wf.ID)
			}
			return versionConflict(wf.ID, expectedVersion)
		}
		if _, err := r.actions.InsertOne(sc, entry); err != nil {
			return fmt.Errorf("failed to append workflow action: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	wf.Version = next.Version
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	err := r.workflows.FindOne(ctx, bson.M{"_id": id}).Decode(&wf)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &wf, nil
}

func (r *MongoRepository) List(ctx context.Context, filter ListFilter) ([]Workflow, error) {
	query := bson.M{}
	if filter.DeclarationID != "" {
		query["declaration_id"] = filter.DeclarationID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.workflows.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer cursor.Close(ctx)

	var workflows []Workflow
	if err := cursor.All(ctx, &workflows); err != nil {
		return nil, fmt.Errorf("failed to decode workflows: %w", err)
	}
	return workflows, nil
}

func (r *MongoRepository) Actions(ctx context.Context, workflowID string) ([]ActionEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.actions.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow actions: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []ActionEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode workflow actions: %w", err)
	}
	if len(entries) == 0 {
		if _, err := r.Get(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *MongoRepository) LatestAction(ctx context.Context, workflowID string) (*ActionEntry, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	var entry ActionEntry
	err := r.actions.FindOne(ctx, bson.M{"workflow_id": workflowID}, opts).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFoundAction(workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest workflow action: %w", err)
	}
	return &entry, nil
}

func (r *MongoRepository) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
