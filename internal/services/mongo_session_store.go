package services

import (
	"context"
	"fmt"
	"time"

	"agentforge/internal/database"
	"agentforge/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSessionStore handles MongoDB CRUD for codegen sessions
type MongoSessionStore struct {
	collection *mongo.Collection
}

// NewMongoSessionStore creates a new session store
func NewMongoSessionStore(mongodb *database.MongoDB) *MongoSessionStore {
	return &MongoSessionStore{
		collection: mongodb.Collection(database.CollectionCodegenSessions),
	}
}

// Create inserts a planning session
func (s *MongoSessionStore) Create(ctx context.Context, projectID string, documentIDs []string) (*models.CodegenSession, error) {
	session := newSession(uuid.New().String(), projectID, documentIDs)

	if _, err := s.collection.InsertOne(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// FindByID returns a session by ID
func (s *MongoSessionStore) FindByID(ctx context.Context, id string) (*models.CodegenSession, error) {
	var session models.CodegenSession
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// FindByProjectID returns a project's sessions, newest first
func (s *MongoSessionStore) FindByProjectID(ctx context.Context, projectID string) ([]models.CodegenSession, error) {
	return s.find(ctx, bson.M{"projectId": projectID})
}

// FindAll returns every session, newest first
func (s *MongoSessionStore) FindAll(ctx context.Context) ([]models.CodegenSession, error) {
	return s.find(ctx, bson.M{})
}

// FindStale returns sessions stuck in status since before
func (s *MongoSessionStore) FindStale(ctx context.Context, status models.SessionStatus, before time.Time) ([]models.CodegenSession, error) {
	return s.find(ctx, bson.M{
		"status":    status,
		"updatedAt": bson.M{"$lt": before},
	})
}

func (s *MongoSessionStore) find(ctx context.Context, filter bson.M) ([]models.CodegenSession, error) {
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []models.CodegenSession{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// SetPlan stores the plan while the session is still planning
func (s *MongoSessionStore) SetPlan(ctx context.Context, id string, plan *models.Plan, link models.RemoteLink) (*models.CodegenSession, error) {
	set := linkSet(link)
	set["plan"] = plan
	set["updatedAt"] = time.Now().UTC()

	return s.conditionalUpdate(ctx, bson.M{"_id": id, "status": models.SessionStatusPlanning}, bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	})
}

// SetBuild stores the build record and completes the session
func (s *MongoSessionStore) SetBuild(ctx context.Context, id string, build *models.BuildRecord, link models.RemoteLink) (*models.CodegenSession, error) {
	set := linkSet(link)
	set["build"] = build
	set["status"] = models.SessionStatusCompleted
	set["updatedAt"] = time.Now().UTC()

	return s.conditionalUpdate(ctx, bson.M{"_id": id, "status": models.SessionStatusBuilding}, bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	})
}

// AddChatMessage appends to the chat history
func (s *MongoSessionStore) AddChatMessage(ctx context.Context, id string, msg models.ChatMessage) (*models.CodegenSession, error) {
	return s.conditionalUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"chatHistory": msg},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
		"$inc":  bson.M{"version": 1},
	})
}

// UpdateStatus advances the session status; setting the current status again is a no-op
func (s *MongoSessionStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown session status %q", status)
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, status)
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "status": current.Status}, bson.M{
		"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: status changed concurrently", models.ErrInvalidTransition)
	}
	return nil
}

// Delete removes a session
func (s *MongoSessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *MongoSessionStore) conditionalUpdate(ctx context.Context, filter, update bson.M) (*models.CodegenSession, error) {
	var session models.CodegenSession
	err := s.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&session)
	if err == nil {
		return &session, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	// Tell a missing record apart from one whose status moved on
	count, countErr := s.collection.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
	if countErr != nil {
		return nil, fmt.Errorf("failed to update session: %w", countErr)
	}
	if count == 0 {
		return nil, models.ErrSessionNotFound
	}
	return nil, models.ErrInvalidTransition
}

// linkSet returns $set entries for the non-empty linkage fields only
func linkSet(link models.RemoteLink) bson.M {
	set := bson.M{}
	if link.AgentWorkspaceID != "" {
		set["agentWorkspaceId"] = link.AgentWorkspaceID
	}
	if link.AgentID != "" {
		set["agentId"] = link.AgentID
	}
	if link.AgentURL != "" {
		set["agentUrl"] = link.AgentURL
	}
	if link.BranchName != "" {
		set["branchName"] = link.BranchName
	}
	return set
}
