package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/config"
	"agentforge/internal/models"
)

func testConfig() config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.APIKey = "test-key"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PlanTimeout = 2 * time.Second
	cfg.BuildTimeout = 2 * time.Second
	cfg.ChatTimeout = 2 * time.Second
	return cfg
}

// fakeAgent replays scripted poll results; the last one repeats forever
type fakeAgent struct {
	mu          sync.Mutex
	polls       []pollResult
	createErr   error
	followupErr error
	handle      agent.AgentHandle

	createCalls   int
	pollCalls     int
	followupCalls int
	prompts       []string
}

type pollResult struct {
	snapshot *agent.Snapshot
	err      error
}

func newFakeAgent(polls ...pollResult) *fakeAgent {
	return &fakeAgent{
		polls:  polls,
		handle: agent.AgentHandle{ID: "bc-1", Status: agent.StatusCreating, Target: agent.Target{BranchName: "cursor/work", URL: "https://cursor.com/agents?id=bc-1"}},
	}
}

func running() pollResult {
	return pollResult{snapshot: &agent.Snapshot{ID: "bc-1", Status: agent.StatusRunning}}
}

func finished(summary string) pollResult {
	return pollResult{snapshot: &agent.Snapshot{ID: "bc-1", Status: agent.StatusFinished, Summary: summary}}
}

func (f *fakeAgent) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.AgentHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.prompts = append(f.prompts, req.Prompt)
	if f.createErr != nil {
		return nil, f.createErr
	}
	handle := f.handle
	return &handle, nil
}

func (f *fakeAgent) PollStatus(ctx context.Context, agentID string) (*agent.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &agent.TransportError{Op: "poll", Err: err}
	}
	f.pollCalls++
	if len(f.polls) == 0 {
		return &agent.Snapshot{ID: agentID, Status: agent.StatusRunning}, nil
	}
	next := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	snapshot := *next.snapshot
	return &snapshot, nil
}

func (f *fakeAgent) SendFollowup(ctx context.Context, agentID, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followupCalls++
	f.prompts = append(f.prompts, prompt)
	return f.followupErr
}

func (f *fakeAgent) calls() (create, poll, followup int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.pollCalls, f.followupCalls
}

// memStore enforces the same status rules as the real stores
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*models.CodegenSession
	transitions []models.SessionStatus
	setPlanErr  error
}

func newMemStore(sessions ...*models.CodegenSession) *memStore {
	s := &memStore{sessions: make(map[string]*models.CodegenSession)}
	for _, sess := range sessions {
		copied := *sess
		s.sessions[sess.ID] = &copied
	}
	return s
}

func (s *memStore) get(id string) *models.CodegenSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.sessions[id]
	copied.ChatHistory = append([]models.ChatMessage(nil), copied.ChatHistory...)
	return &copied
}

func (s *memStore) SetPlan(ctx context.Context, id string, plan *models.Plan, link models.RemoteLink) (*models.CodegenSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setPlanErr != nil {
		return nil, s.setPlanErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if sess.Status != models.SessionStatusPlanning {
		return nil, models.ErrInvalidTransition
	}
	sess.Plan = plan
	sess.RemoteLink = sess.RemoteLink.Merge(link)
	return sess, nil
}

func (s *memStore) SetBuild(ctx context.Context, id string, build *models.BuildRecord, link models.RemoteLink) (*models.CodegenSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if sess.Status != models.SessionStatusBuilding {
		return nil, models.ErrInvalidTransition
	}
	sess.Build = build
	sess.Status = models.SessionStatusCompleted
	sess.RemoteLink = sess.RemoteLink.Merge(link)
	s.transitions = append(s.transitions, models.SessionStatusCompleted)
	return sess, nil
}

func (s *memStore) AddChatMessage(ctx context.Context, id string, msg models.ChatMessage) (*models.CodegenSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	sess.ChatHistory = append(sess.ChatHistory, msg)
	return sess, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if sess.Status == status {
		return nil
	}
	if !sess.Status.CanTransitionTo(status) {
		return models.ErrInvalidTransition
	}
	sess.Status = status
	s.transitions = append(s.transitions, status)
	return nil
}

type fakeArtifacts struct {
	mu    sync.Mutex
	saved []*models.BuildMetadata
	files [][]models.BuildFile
	err   error
}

func (a *fakeArtifacts) Save(ctx context.Context, meta *models.BuildMetadata, files []models.BuildFile) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.saved = append(a.saved, meta)
	a.files = append(a.files, files)
	return "/tmp/codegen-builds/" + meta.BuildID, nil
}

type staticResolver struct {
	pc  PlanContext
	err error
}

func (r staticResolver) Resolve(ctx context.Context, session *models.CodegenSession) (PlanContext, error) {
	return r.pc, r.err
}

var errStoreDown = errors.New("store unavailable")

func planningSession() *models.CodegenSession {
	return &models.CodegenSession{
		ID:          "sess-1",
		ProjectID:   "proj-1",
		DocumentIDs: []string{"doc-1"},
		Status:      models.SessionStatusPlanning,
	}
}
