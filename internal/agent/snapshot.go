package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state the remote agent reports
type Status string

const (
	StatusCreating  Status = "CREATING"
	StatusRunning   Status = "RUNNING"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether the agent will not change state any more
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// normalizeStatus maps the spellings the API has been seen to use onto the canonical set
func normalizeStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATING", "PENDING", "QUEUED":
		return StatusCreating, true
	case "RUNNING", "IN_PROGRESS":
		return StatusRunning, true
	case "FINISHED", "COMPLETED", "DONE":
		return StatusFinished, true
	case "FAILED", "ERROR":
		return StatusFailed, true
	case "CANCELLED", "CANCELED":
		return StatusCancelled, true
	}
	return "", false
}

// Target is where the agent pushes its work
type Target struct {
	BranchName string `json:"branchName"`
	URL        string `json:"url"`
	PRURL      string `json:"prUrl,omitempty"`
}

// Message is one entry of a conversation the agent may return
type Message struct {
	Role    string `json:"role,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Body returns the message text regardless of which field carried it
func (m Message) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Text
}

// Snapshot is the agent's reported state at one poll instant
type Snapshot struct {
	ID        string
	Name      string
	Status    Status
	RawStatus string
	Summary   string
	Target    Target
	Messages  []Message
	Response  string
}

// AgentHandle is returned by a successful create
type AgentHandle struct {
	ID     string
	Name   string
	Status Status
	Target Target
}

type wireAgent struct {
	ID       *string   `json:"id"`
	Name     string    `json:"name"`
	Status   *string   `json:"status"`
	Summary  string    `json:"summary"`
	Target   *Target   `json:"target"`
	Messages []Message `json:"messages"`
	Response string    `json:"response"`
}

// DecodeSnapshot turns a poll response body into a typed Snapshot.
// Bodies without an id or with an unknown status are rejected with a ParseError.
func DecodeSnapshot(body []byte) (*Snapshot, error) {
	wire, err := decodeWire("poll", body)
	if err != nil {
		return nil, err
	}
	if wire.Status == nil {
		return nil, &ParseError{Op: "poll", Body: truncateString(string(body), 500), Err: errors.New("missing status")}
	}
	status, ok := normalizeStatus(*wire.Status)
	if !ok {
		return nil, &ParseError{Op: "poll", Body: truncateString(string(body), 500), Err: fmt.Errorf("unknown status %q", *wire.Status)}
	}

	snapshot := &Snapshot{
		ID:        *wire.ID,
		Name:      wire.Name,
		Status:    status,
		RawStatus: *wire.Status,
		Summary:   wire.Summary,
		Messages:  wire.Messages,
		Response:  wire.Response,
	}
	if wire.Target != nil {
		snapshot.Target = *wire.Target
	}
	return snapshot, nil
}

// DecodeHandle turns a create response body into an AgentHandle.
// A missing status is read as CREATING, which is what the API reports right after creation.
func DecodeHandle(body []byte) (*AgentHandle, error) {
	wire, err := decodeWire("create", body)
	if err != nil {
		return nil, err
	}

	handle := &AgentHandle{ID: *wire.ID, Name: wire.Name, Status: StatusCreating}
	if wire.Status != nil {
		status, ok := normalizeStatus(*wire.Status)
		if !ok {
			return nil, &ParseError{Op: "create", Body: truncateString(string(body), 500), Err: fmt.Errorf("unknown status %q", *wire.Status)}
		}
		handle.Status = status
	}
	if wire.Target != nil {
		handle.Target = *wire.Target
	}
	return handle, nil
}

func decodeWire(op string, body []byte) (*wireAgent, error) {
	var wire wireAgent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ParseError{Op: op, Body: truncateString(string(body), 500), Err: err}
	}
	if wire.ID == nil || strings.TrimSpace(*wire.ID) == "" {
		return nil, &ParseError{Op: op, Body: truncateString(string(body), 500), Err: errors.New("missing agent id")}
	}
	return &wire, nil
}
