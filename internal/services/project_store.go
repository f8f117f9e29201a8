package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentforge/internal/database"
	"agentforge/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrProjectNotFound is returned when no project matches
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore persists project identities
type ProjectStore interface {
	Create(ctx context.Context, project *models.Project) error
	FindByID(ctx context.Context, id string) (*models.Project, error)
	FindAll(ctx context.Context) ([]models.Project, error)
}

func prepareProject(project *models.Project) error {
	project.Name = strings.TrimSpace(project.Name)
	if project.Name == "" {
		return fmt.Errorf("project name is required")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

// MongoProjectStore handles CRUD for projects in MongoDB
type MongoProjectStore struct {
	collection *mongo.Collection
}

// NewMongoProjectStore creates a new project store
func NewMongoProjectStore(mongodb *database.MongoDB) *MongoProjectStore {
	return &MongoProjectStore{
		collection: mongodb.Collection(database.CollectionProjects),
	}
}

// Create inserts a new project
func (s *MongoProjectStore) Create(ctx context.Context, project *models.Project) error {
	if err := prepareProject(project); err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, project); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// FindByID returns a project by ID
func (s *MongoProjectStore) FindByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&project)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// FindAll returns every project, newest first
func (s *MongoProjectStore) FindAll(ctx context.Context) ([]models.Project, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer cursor.Close(ctx)

	projects := []models.Project{}
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return projects, nil
}

// SQLProjectStore keeps projects in MySQL or SQLite
type SQLProjectStore struct {
	db *database.DB
}

// NewSQLProjectStore creates a new project store
func NewSQLProjectStore(db *database.DB) *SQLProjectStore {
	return &SQLProjectStore{db: db}
}

const projectColumns = `id, name, description, source_repository, branch, subdirectory, created_at, updated_at`

func scanProject(row rowScanner) (*models.Project, error) {
	var project models.Project
	var createdAt, updatedAt int64
	if err := row.Scan(&project.ID, &project.Name, &project.Description, &project.SourceRepository,
		&project.Branch, &project.Subdirectory, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	project.CreatedAt = time.UnixMilli(createdAt).UTC()
	project.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &project, nil
}

// Create inserts a new project
func (s *SQLProjectStore) Create(ctx context.Context, project *models.Project) error {
	if err := prepareProject(project); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description, project.SourceRepository, project.Branch, project.Subdirectory,
		project.CreatedAt.UnixMilli(), project.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// FindByID returns a project by ID
func (s *SQLProjectStore) FindByID(ctx context.Context, id string) (*models.Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// FindAll returns every project, newest first
func (s *SQLProjectStore) FindAll(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}
