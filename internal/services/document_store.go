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
)

// ErrDocumentNotFound is returned when no document matches
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore persists specification documents
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, id string) (*models.Document, error)
	// FindByIDs returns the documents in the order of ids; unknown ids are skipped
	FindByIDs(ctx context.Context, ids []string) ([]models.Document, error)
}

func prepareDocument(doc *models.Document) error {
	if strings.TrimSpace(doc.ProjectID) == "" {
		return fmt.Errorf("projectId is required")
	}
	if strings.TrimSpace(doc.Body) == "" {
		return fmt.Errorf("document body is required")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

// orderDocuments arranges docs in the order of ids
func orderDocuments(ids []string, docs []models.Document) []models.Document {
	byID := make(map[string]models.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	ordered := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			ordered = append(ordered, doc)
		}
	}
	return ordered
}

// MongoDocumentStore handles CRUD for documents in MongoDB
type MongoDocumentStore struct {
	collection *mongo.Collection
}

// NewMongoDocumentStore creates a new document store
func NewMongoDocumentStore(mongodb *database.MongoDB) *MongoDocumentStore {
	return &MongoDocumentStore{
		collection: mongodb.Collection(database.CollectionDocuments),
	}
}

// Create inserts a new document
func (s *MongoDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if err := prepareDocument(doc); err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// FindByID returns a document by ID
func (s *MongoDocumentStore) FindByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// FindByIDs returns the documents in the order of ids
func (s *MongoDocumentStore) FindByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return []models.Document{}, nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return orderDocuments(ids, docs), nil
}

// SQLDocumentStore keeps documents in MySQL or SQLite
type SQLDocumentStore struct {
	db *database.DB
}

// NewSQLDocumentStore creates a new document store
func NewSQLDocumentStore(db *database.DB) *SQLDocumentStore {
	return &SQLDocumentStore{db: db}
}

const documentColumns = `id, project_id, title, body, created_at, updated_at`

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var createdAt, updatedAt int64
	if err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Title, &doc.Body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &doc, nil
}

// Create inserts a new document
func (s *SQLDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if err := prepareDocument(doc); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Title, doc.Body, doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// FindByID returns a document by ID
func (s *SQLDocumentStore) FindByID(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// FindByIDs returns the documents in the order of ids
func (s *SQLDocumentStore) FindByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return []models.Document{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return orderDocuments(ids, docs), nil
}
