package models

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle marker of a codegen session
type SessionStatus string

const (
	SessionStatusPlanning  SessionStatus = "planning"
	SessionStatusBuilding  SessionStatus = "building"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

var (
	// ErrSessionNotFound is returned by session stores when no record matches
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when a status change would move a session backwards
	// or when the stored status changed underneath the caller
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// IsValid reports whether s is one of the known statuses
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusPlanning, SessionStatusBuilding, SessionStatusCompleted, SessionStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusError
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Only planning→building and building→{completed,error} are legal.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusPlanning:
		return next == SessionStatusBuilding
	case SessionStatusBuilding:
		return next == SessionStatusCompleted || next == SessionStatusError
	}
	return false
}

// ResultSource tells whether a result came from the remote agent or was synthesized locally
type ResultSource string

const (
	SourceRemote   ResultSource = "remote"
	SourceFallback ResultSource = "fallback"
)

// RemoteLink identifies the remote agent run behind a session, plan or build.
// Empty fields mean "unknown" and never clear a previously stored value.
type RemoteLink struct {
	AgentWorkspaceID string `bson:"agentWorkspaceId,omitempty" json:"agentWorkspaceId,omitempty"`
	AgentID          string `bson:"agentId,omitempty" json:"agentId,omitempty"`
	AgentURL         string `bson:"agentUrl,omitempty" json:"agentUrl,omitempty"`
	BranchName       string `bson:"branchName,omitempty" json:"branchName,omitempty"`
}

// IsZero reports whether no linkage field is set
func (l RemoteLink) IsZero() bool {
	return l.AgentWorkspaceID == "" && l.AgentID == "" && l.AgentURL == "" && l.BranchName == ""
}

// Merge returns l with every non-empty field of update applied on top
func (l RemoteLink) Merge(update RemoteLink) RemoteLink {
	if update.AgentWorkspaceID != "" {
		l.AgentWorkspaceID = update.AgentWorkspaceID
	}
	if update.AgentID != "" {
		l.AgentID = update.AgentID
	}
	if update.AgentURL != "" {
		l.AgentURL = update.AgentURL
	}
	if update.BranchName != "" {
		l.BranchName = update.BranchName
	}
	return l
}

// PlanFile is one file the plan expects to create or change
type PlanFile struct {
	Path         string   `bson:"path" json:"path"`
	Description  string   `bson:"description" json:"description"`
	Dependencies []string `bson:"dependencies" json:"dependencies"`
}

// PlanStep is one ordered implementation step
type PlanStep struct {
	ID          string   `bson:"id" json:"id"`
	StepNumber  int      `bson:"stepNumber,omitempty" json:"stepNumber,omitempty"`
	Description string   `bson:"description" json:"description"`
	Files       []string `bson:"files,omitempty" json:"files,omitempty"`
	Status      string   `bson:"status" json:"status"`
}

// Plan is the canonical implementation plan, agent-authored or synthesized
type Plan struct {
	Files         []PlanFile   `bson:"files" json:"files"`
	Steps         []PlanStep   `bson:"steps" json:"steps"`
	EstimatedTime string       `bson:"estimatedTime" json:"estimatedTime"`
	Summary       string       `bson:"summary" json:"summary"`
	Source        ResultSource `bson:"source" json:"source"`
	RemoteLink    `bson:",inline"`
}

// BuildStatus is the outcome of an implementation pass
type BuildStatus string

const (
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusPartial   BuildStatus = "partial"
	BuildStatusFailed    BuildStatus = "failed"
)

// BuildFile is one generated file
type BuildFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// BuildResult is the canonical description of files produced by an implementation pass
type BuildResult struct {
	Files      []BuildFile  `json:"files"`
	Status     BuildStatus  `json:"status"`
	Message    string       `json:"message"`
	Source     ResultSource `json:"source"`
	RemoteLink
}

// BuildRecord is what a session keeps about its build; file bodies live in artifact storage
type BuildRecord struct {
	BuildID     string       `bson:"buildId" json:"buildId"`
	Status      BuildStatus  `bson:"status" json:"status"`
	Message     string       `bson:"message" json:"message"`
	FileCount   int          `bson:"fileCount" json:"fileCount"`
	StorageDir  string       `bson:"storageDir" json:"storageDir"`
	Source      ResultSource `bson:"source" json:"source"`
	GeneratedAt time.Time    `bson:"generatedAt" json:"generatedAt"`
}

// ChatRole is the author of a chat entry
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry of a session's append-only chat history
type ChatMessage struct {
	Role      ChatRole  `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ChatReply is the answer to one chat message
type ChatReply struct {
	Response string       `json:"response"`
	Source   ResultSource `json:"source"`
}

// CodegenSession binds a project and its specification documents to the plan/build/chat lifecycle
type CodegenSession struct {
	ID          string        `bson:"_id" json:"id"`
	ProjectID   string        `bson:"projectId" json:"projectId"`
	DocumentIDs []string      `bson:"documentIds" json:"documentIds"`
	Status      SessionStatus `bson:"status" json:"status"`
	Plan        *Plan         `bson:"plan,omitempty" json:"plan"`
	Build       *BuildRecord  `bson:"build,omitempty" json:"build"`
	ChatHistory []ChatMessage `bson:"chatHistory" json:"chatHistory"`
	RemoteLink  `bson:",inline"`
	Version     int64     `bson:"version" json:"-"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasRemoteAgent reports whether a remote agent run is attached to the session
func (s *CodegenSession) HasRemoteAgent() bool {
	return s.AgentID != ""
}
