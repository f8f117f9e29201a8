package services

import (
	"context"
	"time"

	"agentforge/internal/models"
)

// SessionStore is the durable record of codegen sessions.
// Status changes are compare-and-swap: a write that expects a status the record no longer has
// fails with models.ErrInvalidTransition instead of overwriting it.
type SessionStore interface {
	Create(ctx context.Context, projectID string, documentIDs []string) (*models.CodegenSession, error)
	FindByID(ctx context.Context, id string) (*models.CodegenSession, error)
	FindByProjectID(ctx context.Context, projectID string) ([]models.CodegenSession, error)
	FindAll(ctx context.Context) ([]models.CodegenSession, error)
	// FindStale returns sessions in status whose last update is older than before
	FindStale(ctx context.Context, status models.SessionStatus, before time.Time) ([]models.CodegenSession, error)

	// SetPlan stores a plan on a planning session, replacing any earlier plan
	SetPlan(ctx context.Context, id string, plan *models.Plan, link models.RemoteLink) (*models.CodegenSession, error)
	// SetBuild stores the build record and moves a building session to completed
	SetBuild(ctx context.Context, id string, build *models.BuildRecord, link models.RemoteLink) (*models.CodegenSession, error)
	AddChatMessage(ctx context.Context, id string, msg models.ChatMessage) (*models.CodegenSession, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	Delete(ctx context.Context, id string) error
}

func newSession(id, projectID string, documentIDs []string) *models.CodegenSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.CodegenSession{
		ID:          id,
		ProjectID:   projectID,
		DocumentIDs: append([]string{}, documentIDs...),
		Status:      models.SessionStatusPlanning,
		ChatHistory: []models.ChatMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
