// Package orchestrator drives a remote code-generation agent through the plan, build and chat
// lifecycle of a codegen session and substitutes locally generated output whenever the remote
// path cannot complete.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/config"
	"agentforge/internal/fallback"
	"agentforge/internal/logging"
	"agentforge/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Mode names the kind of invocation
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeBuild Mode = "build"
	ModeChat  Mode = "chat"
)

// AgentAPI is the remote agent transport
type AgentAPI interface {
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.AgentHandle, error)
	PollStatus(ctx context.Context, agentID string) (*agent.Snapshot, error)
	SendFollowup(ctx context.Context, agentID, prompt string) error
}

// SessionWriter is the part of the session store the orchestrator writes through.
// Linkage fields are only stored when non-empty.
type SessionWriter interface {
	SetPlan(ctx context.Context, id string, plan *models.Plan, link models.RemoteLink) (*models.CodegenSession, error)
	SetBuild(ctx context.Context, id string, build *models.BuildRecord, link models.RemoteLink) (*models.CodegenSession, error)
	AddChatMessage(ctx context.Context, id string, msg models.ChatMessage) (*models.CodegenSession, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
}

// ArtifactStore persists the files of a build and returns where they were written
type ArtifactStore interface {
	Save(ctx context.Context, meta *models.BuildMetadata, files []models.BuildFile) (string, error)
}

// PlanContext is what the agent is told about the project
type PlanContext struct {
	ProjectName       string
	Specifications    []string
	AdditionalContext string
	Source            *agent.SourceRef
}

// ContextResolver loads the project and specification documents behind a session
type ContextResolver interface {
	Resolve(ctx context.Context, session *models.CodegenSession) (PlanContext, error)
}

// Metrics receives invocation outcomes
type Metrics interface {
	ObserveInvocation(mode, source string, duration time.Duration)
	ObservePolls(mode string, attempts int)
	IncFallback(mode, kind string)
	IncFailure(mode, kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveInvocation(string, string, time.Duration) {}
func (noopMetrics) ObservePolls(string, int)                        {}
func (noopMetrics) IncFallback(string, string)                      {}
func (noopMetrics) IncFailure(string, string)                       {}

// Dependencies wires an Orchestrator. Agent may be nil when no API key is configured.
type Dependencies struct {
	Agent     AgentAPI
	Sessions  SessionWriter
	Artifacts ArtifactStore
	Contexts  ContextResolver
	Fallback  *fallback.Generator
	Metrics   Metrics
	Logger    *logrus.Logger
}

// Orchestrator coordinates the remote agent and the fallback generator
type Orchestrator struct {
	cfg       config.AgentConfig
	agent     AgentAPI
	sessions  SessionWriter
	artifacts ArtifactStore
	contexts  ContextResolver
	fallback  *fallback.Generator
	metrics   Metrics
	logger    *logrus.Logger
}

// New creates an orchestrator
func New(cfg config.AgentConfig, deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		agent:     deps.Agent,
		sessions:  deps.Sessions,
		artifacts: deps.Artifacts,
		contexts:  deps.Contexts,
		fallback:  deps.Fallback,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if o.cfg.PollInterval <= 0 {
		o.cfg.PollInterval = config.DefaultAgentConfig().PollInterval
	}
	if o.fallback == nil {
		o.fallback = fallback.MustNew()
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.agent == nil {
		o.logger.Warn("Remote agent not configured, every invocation will use fallback results")
	}
	return o
}

// RemoteEnabled reports whether invocations try the remote agent at all
func (o *Orchestrator) RemoteEnabled() bool {
	return o.agent != nil
}

func (o *Orchestrator) begin(session *models.CodegenSession, mode Mode) *invocation {
	return &invocation{
		mode:      mode,
		sessionID: session.ID,
		started:   time.Now(),
		log:       logging.WithInvocation(o.logger, session.ID, string(mode)),
	}
}

// CreatePlan asks the agent for an implementation plan and stores it on the session.
// The session must still be planning; calling it again replaces the plan.
func (o *Orchestrator) CreatePlan(ctx context.Context, session *models.CodegenSession, pc PlanContext) (*models.Plan, error) {
	if session == nil {
		return nil, validationErrorf("session is required")
	}
	if session.Status != models.SessionStatusPlanning {
		return nil, validationErrorf("session %s is %s; plans can only be created while planning", session.ID, session.Status)
	}

	inv := o.begin(session, ModePlan)
	inv.log.WithFields(logrus.Fields{
		"project":        pc.ProjectName,
		"specifications": len(pc.Specifications),
	}).Info("Creating plan")

	plan, _, err := withFallback(ctx, o, inv, o.remotePlan(ctx, inv, pc), func() *models.Plan {
		return o.fallback.Plan(pc.ProjectName)
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.sessions.SetPlan(ctx, session.ID, plan, plan.RemoteLink); err != nil {
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}

	return plan, nil
}

func (o *Orchestrator) remotePlan(ctx context.Context, inv *invocation, pc PlanContext) Result[*models.Plan] {
	if o.agent == nil {
		return failed[*models.Plan](ErrAgentUnconfigured)
	}

	handle, err := o.agent.CreateAgent(ctx, agent.CreateRequest{
		Prompt: buildPlanPrompt(pc, o.cfg.ResponseLanguage),
		Source: pc.Source,
	})
	if err != nil {
		return failed[*models.Plan](err)
	}
	inv.agentID = handle.ID

	snapshot, err := o.waitForCompletion(ctx, inv, handle.ID, o.cfg.PlanTimeout)
	if err != nil {
		return failed[*models.Plan](err)
	}

	fillTarget(snapshot, handle.Target)
	return ok(parsePlan(snapshot, o.cfg.UIBaseURL))
}

// ExecuteBuild runs an implementation pass for the session's plan, stores the files as
// artifacts and completes the session. A session without a plan is rejected before any call.
func (o *Orchestrator) ExecuteBuild(ctx context.Context, session *models.CodegenSession) (*models.BuildResult, error) {
	if session == nil {
		return nil, validationErrorf("session is required")
	}
	if session.Plan == nil {
		return nil, validationErrorf("session %s has no plan; create a plan before building", session.ID)
	}
	if session.Status != models.SessionStatusPlanning {
		return nil, validationErrorf("session %s is %s; only planning sessions can be built", session.ID, session.Status)
	}

	pc, err := o.contexts.Resolve(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build context: %w", err)
	}

	if err := o.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusBuilding); err != nil {
		return nil, fmt.Errorf("failed to mark session as building: %w", err)
	}

	inv := o.begin(session, ModeBuild)
	inv.log.WithFields(logrus.Fields{
		"project":    pc.ProjectName,
		"plan_files": len(session.Plan.Files),
	}).Info("Executing build")

	result, source, err := withFallback(ctx, o, inv, o.remoteBuild(ctx, inv, session.Plan, pc), func() *models.BuildResult {
		return o.fallback.Build(session.Plan, pc.ProjectName)
	})
	if err != nil {
		o.markFailed(ctx, inv)
		return nil, err
	}

	generatedAt := time.Now().UTC()
	meta := &models.BuildMetadata{
		BuildID:     "build-" + uuid.New().String(),
		SessionID:   session.ID,
		ProjectID:   session.ProjectID,
		ProjectName: pc.ProjectName,
		GeneratedAt: generatedAt,
		Status:      result.Status,
		Message:     result.Message,
		FileCount:   len(result.Files),
		AgentURL:    result.AgentURL,
		BranchName:  result.BranchName,
		Source:      source,
		Files:       make([]models.BuildFileInfo, 0, len(result.Files)),
	}
	for _, f := range result.Files {
		meta.Files = append(meta.Files, models.BuildFileInfo{Path: f.Path, Language: f.Language})
	}

	storageDir, err := o.artifacts.Save(ctx, meta, result.Files)
	if err != nil {
		o.markFailed(ctx, inv)
		return nil, fmt.Errorf("failed to store build artifacts: %w", err)
	}

	record := &models.BuildRecord{
		BuildID:     meta.BuildID,
		Status:      result.Status,
		Message:     result.Message,
		FileCount:   meta.FileCount,
		StorageDir:  storageDir,
		Source:      source,
		GeneratedAt: generatedAt,
	}
	if _, err := o.sessions.SetBuild(ctx, session.ID, record, result.RemoteLink); err != nil {
		return nil, fmt.Errorf("failed to persist build: %w", err)
	}

	inv.log.WithFields(logrus.Fields{
		"build_id":   meta.BuildID,
		"file_count": meta.FileCount,
		"source":     source,
	}).Info("Build stored")

	return result, nil
}

func (o *Orchestrator) remoteBuild(ctx context.Context, inv *invocation, plan *models.Plan, pc PlanContext) Result[*models.BuildResult] {
	if o.agent == nil {
		return failed[*models.BuildResult](ErrAgentUnconfigured)
	}

	handle, err := o.agent.CreateAgent(ctx, agent.CreateRequest{
		Prompt: buildExecutionPrompt(pc, plan, o.cfg.ResponseLanguage),
		Source: pc.Source,
	})
	if err != nil {
		return failed[*models.BuildResult](err)
	}
	inv.agentID = handle.ID

	snapshot, err := o.waitForCompletion(ctx, inv, handle.ID, o.cfg.BuildTimeout)
	if err != nil {
		return failed[*models.BuildResult](err)
	}

	fillTarget(snapshot, handle.Target)
	result, dropped := parseBuild(snapshot, o.cfg.UIBaseURL)
	if len(dropped) > 0 {
		inv.log.WithFields(logrus.Fields{
			"agent_id":      handle.ID,
			"dropped_paths": dropped,
		}).Warn("Dropped generated files with unsafe paths")
	}
	return ok(result)
}

// markFailed moves a building session to error, even when the caller has gone away
func (o *Orchestrator) markFailed(ctx context.Context, inv *invocation) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.sessions.UpdateStatus(persistCtx, inv.sessionID, models.SessionStatusError); err != nil {
		inv.log.WithError(err).Error("Failed to mark session as error")
	}
}

// SendMessage appends the user's message, answers it and appends exactly one assistant reply.
// Sessions without a linked agent are answered locally without any network call.
func (o *Orchestrator) SendMessage(ctx context.Context, session *models.CodegenSession, message string) (*models.ChatReply, error) {
	if session == nil {
		return nil, validationErrorf("session is required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, validationErrorf("message is required")
	}

	userMsg := models.ChatMessage{Role: models.ChatRoleUser, Content: message, Timestamp: time.Now().UTC()}
	if _, err := o.sessions.AddChatMessage(ctx, session.ID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist chat message: %w", err)
	}

	inv := o.begin(session, ModeChat)
	inv.agentID = session.AgentID
	inv.log.WithField("message_length", len(message)).Info("Answering chat message")

	localReply := func() string {
		return o.fallback.Chat(message, session.Plan).Response
	}

	response, source, err := withFallback(ctx, o, inv, o.remoteChat(ctx, inv, session, message), localReply)
	if err != nil {
		// Keep history in user/assistant pairs even when the caller went away
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		reply := models.ChatMessage{Role: models.ChatRoleAssistant, Content: localReply(), Timestamp: time.Now().UTC()}
		if _, persistErr := o.sessions.AddChatMessage(persistCtx, session.ID, reply); persistErr != nil {
			inv.log.WithError(persistErr).Error("Failed to persist assistant reply after cancellation")
		}
		return nil, err
	}

	reply := models.ChatMessage{Role: models.ChatRoleAssistant, Content: response, Timestamp: time.Now().UTC()}
	if _, err := o.sessions.AddChatMessage(ctx, session.ID, reply); err != nil {
		return nil, fmt.Errorf("failed to persist assistant reply: %w", err)
	}

	return &models.ChatReply{Response: response, Source: source}, nil
}

func (o *Orchestrator) remoteChat(ctx context.Context, inv *invocation, session *models.CodegenSession, message string) Result[string] {
	if !session.HasRemoteAgent() {
		return failed[string](ErrNoRemoteAgent)
	}
	if o.agent == nil {
		return failed[string](ErrAgentUnconfigured)
	}

	// Specifications only enrich the prompt; a follow-up still goes out without them
	pc, err := o.contexts.Resolve(ctx, session)
	if err != nil {
		inv.log.WithError(err).Warn("Failed to resolve chat context, sending follow-up without specifications")
		pc = PlanContext{}
	}

	prompt := buildFollowupPrompt(pc, session.Plan, message, o.cfg.ResponseLanguage)
	if err := o.agent.SendFollowup(ctx, session.AgentID, prompt); err != nil {
		return failed[string](err)
	}

	snapshot, err := o.waitForCompletion(ctx, inv, session.AgentID, o.cfg.ChatTimeout)
	if err != nil {
		return failed[string](err)
	}

	fillTarget(snapshot, agent.Target{URL: session.AgentURL, BranchName: session.BranchName})
	return ok(chatResponse(snapshot, o.cfg.ChatSummaryLimit, o.cfg.UIBaseURL))
}

// fillTarget completes a snapshot's target with what was already known about the agent
func fillTarget(s *agent.Snapshot, known agent.Target) {
	if s.Target.URL == "" {
		s.Target.URL = known.URL
	}
	if s.Target.BranchName == "" {
		s.Target.BranchName = known.BranchName
	}
}
