package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/database"
	"agentforge/internal/models"

	"github.com/google/uuid"
)

const sessionColumns = `id, project_id, document_ids, status, plan_json, build_json, chat_history,
	agent_workspace_id, agent_id, agent_url, branch_name, version, created_at, updated_at`

// maxChatAppendAttempts bounds the optimistic retry loop of AddChatMessage
const maxChatAppendAttempts = 5

// SQLSessionStore keeps codegen sessions in MySQL or SQLite.
// Nested values are JSON in TEXT columns; timestamps are unix milliseconds.
type SQLSessionStore struct {
	db *database.DB
}

// NewSQLSessionStore creates a new session store
func NewSQLSessionStore(db *database.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.CodegenSession, error) {
	var (
		session                          models.CodegenSession
		documentIDs, status, chatHistory string
		planJSON, buildJSON              sql.NullString
		createdAt, updatedAt             int64
	)

	err := row.Scan(&session.ID, &session.ProjectID, &documentIDs, &status, &planJSON, &buildJSON, &chatHistory,
		&session.AgentWorkspaceID, &session.AgentID, &session.AgentURL, &session.BranchName,
		&session.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if err := json.Unmarshal([]byte(documentIDs), &session.DocumentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode document ids: %w", err)
	}
	if err := json.Unmarshal([]byte(chatHistory), &session.ChatHistory); err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}
	if planJSON.Valid && planJSON.String != "" {
		session.Plan = &models.Plan{}
		if err := json.Unmarshal([]byte(planJSON.String), session.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
	}
	if buildJSON.Valid && buildJSON.String != "" {
		session.Build = &models.BuildRecord{}
		if err := json.Unmarshal([]byte(buildJSON.String), session.Build); err != nil {
			return nil, fmt.Errorf("failed to decode build: %w", err)
		}
	}

	return &session, nil
}

// Create inserts a planning session
func (s *SQLSessionStore) Create(ctx context.Context, projectID string, documentIDs []string) (*models.CodegenSession, error) {
	session := newSession(uuid.New().String(), projectID, documentIDs)

	documentJSON, err := json.Marshal(session.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO codegen_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, NULL, NULL, '[]', '', '', '', '', 0, ?, ?)`,
		session.ID, session.ProjectID, string(documentJSON), string(session.Status),
		session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// FindByID returns a session by ID
func (s *SQLSessionStore) FindByID(ctx context.Context, id string) (*models.CodegenSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM codegen_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// FindByProjectID returns a project's sessions, newest first
func (s *SQLSessionStore) FindByProjectID(ctx context.Context, projectID string) ([]models.CodegenSession, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM codegen_sessions WHERE project_id = ? ORDER BY created_at DESC`, projectID)
}

// FindAll returns every session, newest first
func (s *SQLSessionStore) FindAll(ctx context.Context) ([]models.CodegenSession, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM codegen_sessions ORDER BY created_at DESC`)
}

// FindStale returns sessions stuck in status since before
func (s *SQLSessionStore) FindStale(ctx context.Context, status models.SessionStatus, before time.Time) ([]models.CodegenSession, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM codegen_sessions WHERE status = ? AND updated_at < ? ORDER BY created_at DESC`,
		string(status), before.UnixMilli())
}

func (s *SQLSessionStore) query(ctx context.Context, query string, args ...interface{}) ([]models.CodegenSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.CodegenSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// SetPlan stores the plan while the session is still planning
func (s *SQLSessionStore) SetPlan(ctx context.Context, id string, plan *models.Plan, link models.RemoteLink) (*models.CodegenSession, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE codegen_sessions SET
			plan_json = ?,
			agent_workspace_id = COALESCE(NULLIF(?, ''), agent_workspace_id),
			agent_id = COALESCE(NULLIF(?, ''), agent_id),
			agent_url = COALESCE(NULLIF(?, ''), agent_url),
			branch_name = COALESCE(NULLIF(?, ''), branch_name),
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(planJSON), link.AgentWorkspaceID, link.AgentID, link.AgentURL, link.BranchName,
		time.Now().UnixMilli(), id, string(models.SessionStatusPlanning))
	if err != nil {
		return nil, fmt.Errorf("failed to set plan: %w", err)
	}
	return s.afterConditionalUpdate(ctx, id, result)
}

// SetBuild stores the build record and completes the session
func (s *SQLSessionStore) SetBuild(ctx context.Context, id string, build *models.BuildRecord, link models.RemoteLink) (*models.CodegenSession, error) {
	buildJSON, err := json.Marshal(build)
	if err != nil {
		return nil, fmt.Errorf("failed to encode build: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE codegen_sessions SET
			build_json = ?,
			status = ?,
			agent_workspace_id = COALESCE(NULLIF(?, ''), agent_workspace_id),
			agent_id = COALESCE(NULLIF(?, ''), agent_id),
			agent_url = COALESCE(NULLIF(?, ''), agent_url),
			branch_name = COALESCE(NULLIF(?, ''), branch_name),
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(buildJSON), string(models.SessionStatusCompleted),
		link.AgentWorkspaceID, link.AgentID, link.AgentURL, link.BranchName,
		time.Now().UnixMilli(), id, string(models.SessionStatusBuilding))
	if err != nil {
		return nil, fmt.Errorf("failed to set build: %w", err)
	}
	return s.afterConditionalUpdate(ctx, id, result)
}

// AddChatMessage appends to the chat history, retrying when another writer got there first
func (s *SQLSessionStore) AddChatMessage(ctx context.Context, id string, msg models.ChatMessage) (*models.CodegenSession, error) {
	for attempt := 0; attempt < maxChatAppendAttempts; attempt++ {
		session, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		history := append(session.ChatHistory, msg)
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chat history: %w", err)
		}

		result, err := s.db.ExecContext(ctx, `
			UPDATE codegen_sessions SET chat_history = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(historyJSON), time.Now().UnixMilli(), id, session.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to add chat message: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 1 {
			return s.FindByID(ctx, id)
		}
	}
	return nil, fmt.Errorf("failed to add chat message: session %s is being modified concurrently", id)
}

// UpdateStatus advances the session status; setting the current status again is a no-op
func (s *SQLSessionStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
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

	result, err := s.db.ExecContext(ctx, `
		UPDATE codegen_sessions SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), time.Now().UnixMilli(), id, string(current.Status))
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: status changed concurrently", models.ErrInvalidTransition)
	}
	return nil
}

// Delete removes a session
func (s *SQLSessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM codegen_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if affected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *SQLSessionStore) afterConditionalUpdate(ctx context.Context, id string, result sql.Result) (*models.CodegenSession, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Either the record is gone or its status moved on
		if _, err := s.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}
	return s.FindByID(ctx, id)
}
