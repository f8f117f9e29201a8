package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/config"
	"agentforge/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type harness struct {
	orch      *Orchestrator
	store     *memStore
	artifacts *fakeArtifacts
	hook      *test.Hook
}

func newHarness(cfg config.AgentConfig, api AgentAPI, sessions ...*models.CodegenSession) *harness {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := newMemStore(sessions...)
	artifacts := &fakeArtifacts{}
	orch := New(cfg, Dependencies{
		Agent:     api,
		Sessions:  store,
		Artifacts: artifacts,
		Contexts: staticResolver{pc: PlanContext{
			ProjectName:    "Alpha",
			Specifications: []string{"Implement login"},
		}},
		Logger: logger,
	})

	return &harness{orch: orch, store: store, artifacts: artifacts, hook: hook}
}

func (h *harness) entriesWithKind(kind string) []*logrus.Entry {
	var matches []*logrus.Entry
	for _, entry := range h.hook.AllEntries() {
		if entry.Data["error_kind"] == kind {
			matches = append(matches, entry)
		}
	}
	return matches
}

func TestCreatePlan_UnreachableRemoteFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	cfg := testConfig()
	cfg.BaseURL = server.URL
	cfg.RequestsPerSec = 0
	client := agent.NewClient(cfg, logrus.New())

	h := newHarness(cfg, client, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{
		ProjectName:    "Alpha",
		Specifications: []string{"Implement login"},
	})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}

	if plan.Summary == "" {
		t.Error("Expected a non-empty summary")
	}
	if len(plan.Files) != 4 {
		t.Errorf("Expected 4 skeleton files, got %d", len(plan.Files))
	}
	if len(plan.Steps) != 4 {
		t.Errorf("Expected 4 steps, got %d", len(plan.Steps))
	}
	if plan.Source != models.SourceFallback {
		t.Errorf("Expected fallback source, got %s", plan.Source)
	}

	notices := h.entriesWithKind("transport")
	if len(notices) != 1 {
		t.Fatalf("Expected exactly one transport fallback notice, got %d", len(notices))
	}
	if notices[0].Data["session_id"] != "sess-1" || notices[0].Data["mode"] != "plan" {
		t.Errorf("Expected session and mode on the notice, got %v", notices[0].Data)
	}

	stored := h.store.get("sess-1")
	if stored.Plan == nil || stored.Plan.Summary != plan.Summary {
		t.Error("Expected the fallback plan to be persisted")
	}
	if stored.Status != models.SessionStatusPlanning {
		t.Errorf("Expected status to stay planning, got %s", stored.Status)
	}
}

func TestCreatePlan_RemoteResult(t *testing.T) {
	api := newFakeAgent(running(), finished("1. Add a login form\n2. Add an auth service"))
	h := newHarness(testConfig(), api, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha", Specifications: []string{"Implement login"}})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}

	if plan.Source != models.SourceRemote {
		t.Errorf("Expected remote source, got %s", plan.Source)
	}
	if !strings.Contains(plan.Summary, "Add a login form") {
		t.Errorf("Expected summary from the agent, got %q", plan.Summary)
	}
	if len(plan.Files) != 0 || len(plan.Steps) != 1 || plan.Steps[0].Status != "completed" {
		t.Errorf("Expected no files and one completed step, got %d files, %+v", len(plan.Files), plan.Steps)
	}

	stored := h.store.get("sess-1")
	if stored.AgentID != "bc-1" || stored.BranchName != "cursor/work" {
		t.Errorf("Expected remote linkage on the session, got %+v", stored.RemoteLink)
	}
	if !strings.Contains(api.prompts[0], "Implement login") {
		t.Errorf("Expected specification in the plan prompt, got %q", api.prompts[0])
	}
}

func TestCreatePlan_Unconfigured(t *testing.T) {
	h := newHarness(testConfig(), nil, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Source != models.SourceFallback {
		t.Errorf("Expected fallback source, got %s", plan.Source)
	}

	notices := h.entriesWithKind("unconfigured")
	if len(notices) != 1 || notices[0].Level != logrus.WarnLevel {
		t.Errorf("Expected one warn-level unconfigured notice, got %d", len(notices))
	}
}

func TestCreatePlan_RejectsNonPlanningSession(t *testing.T) {
	api := newFakeAgent()
	session := planningSession()
	session.Status = models.SessionStatusCompleted
	h := newHarness(testConfig(), api, session)

	_, err := h.orch.CreatePlan(context.Background(), session, PlanContext{})

	if !IsValidation(err) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if create, _, _ := api.calls(); create != 0 {
		t.Errorf("Expected no remote call, got %d", create)
	}
}

func TestCreatePlan_PersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(testConfig(), nil, planningSession())
	h.store.setPlanErr = errStoreDown

	_, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha"})

	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Expected store error to surface, got %v", err)
	}
}

func TestExecuteBuild_ParsesFencedBlocks(t *testing.T) {
	summary := "Implemented.\n\n```ts:src/a.ts\nconsole.log(1)\n```\n"
	api := newFakeAgent(running(), running(), finished(summary))

	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan", Files: []models.PlanFile{{Path: "src/a.ts"}}}
	h := newHarness(testConfig(), api, session)

	result, err := h.orch.ExecuteBuild(context.Background(), session)
	if err != nil {
		t.Fatalf("ExecuteBuild failed: %v", err)
	}

	want := models.BuildFile{Path: "src/a.ts", Content: "console.log(1)", Language: "ts"}
	if len(result.Files) != 1 || result.Files[0] != want {
		t.Fatalf("Expected %+v, got %+v", want, result.Files)
	}
	if result.Status != models.BuildStatusCompleted {
		t.Errorf("Expected completed, got %s", result.Status)
	}
	if result.Source != models.SourceRemote {
		t.Errorf("Expected remote source, got %s", result.Source)
	}
	if _, polls, _ := api.calls(); polls != 3 {
		t.Errorf("Expected 3 polls, got %d", polls)
	}

	stored := h.store.get("sess-1")
	if stored.Status != models.SessionStatusCompleted {
		t.Errorf("Expected completed session, got %s", stored.Status)
	}
	if stored.Build == nil || stored.Build.FileCount != 1 || !strings.HasPrefix(stored.Build.BuildID, "build-") {
		t.Errorf("Expected build record, got %+v", stored.Build)
	}

	if len(h.artifacts.saved) != 1 {
		t.Fatalf("Expected one artifact save, got %d", len(h.artifacts.saved))
	}
	meta := h.artifacts.saved[0]
	if meta.SessionID != "sess-1" || meta.ProjectName != "Alpha" || meta.FileCount != 1 {
		t.Errorf("Unexpected metadata %+v", meta)
	}

	wantTransitions := []models.SessionStatus{models.SessionStatusBuilding, models.SessionStatusCompleted}
	if len(h.store.transitions) != 2 || h.store.transitions[0] != wantTransitions[0] || h.store.transitions[1] != wantTransitions[1] {
		t.Errorf("Expected transitions %v, got %v", wantTransitions, h.store.transitions)
	}
}

func TestExecuteBuild_RevisedFileReplacesEarlierBlock(t *testing.T) {
	summary := "Implemented.\n\n```ts:src/a.ts\nconsole.log(1)\n```\n\n" +
		"```ts:src/a.ts\nconsole.log(2)\n```\n\n```sh:../outside.sh\necho hi\n```\n"
	api := newFakeAgent(finished(summary))

	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan", Files: []models.PlanFile{{Path: "src/a.ts"}}}
	h := newHarness(testConfig(), api, session)

	result, err := h.orch.ExecuteBuild(context.Background(), session)
	if err != nil {
		t.Fatalf("ExecuteBuild failed: %v", err)
	}

	want := models.BuildFile{Path: "src/a.ts", Content: "console.log(2)", Language: "ts"}
	if len(result.Files) != 1 || result.Files[0] != want {
		t.Fatalf("Expected %+v, got %+v", want, result.Files)
	}
	if result.Source != models.SourceRemote {
		t.Errorf("Expected remote source, got %s", result.Source)
	}
	if len(h.artifacts.files) != 1 || len(h.artifacts.files[0]) != 1 {
		t.Errorf("Expected one stored file, got %+v", h.artifacts.files)
	}
	if h.store.get("sess-1").Status != models.SessionStatusCompleted {
		t.Error("Expected the session to complete")
	}

	var warned bool
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Dropped generated files with unsafe paths" {
			warned = true
		}
	}
	if !warned {
		t.Error("Expected a warning naming the dropped paths")
	}
}

func TestExecuteBuild_FallbackAfterRemotePlanWithoutFiles(t *testing.T) {
	api := newFakeAgent()
	api.createErr = &agent.TransportError{Op: "create", StatusCode: 502}

	session := planningSession()
	session.Plan = &models.Plan{
		Files:      []models.PlanFile{},
		Summary:    "Changes pushed to the branch",
		Source:     models.SourceRemote,
		RemoteLink: models.RemoteLink{AgentID: "bc-0", BranchName: "cursor/plan"},
	}
	h := newHarness(testConfig(), api, session)

	result, err := h.orch.ExecuteBuild(context.Background(), session)
	if err != nil {
		t.Fatalf("ExecuteBuild failed: %v", err)
	}

	if result.Source != models.SourceFallback {
		t.Errorf("Expected fallback source, got %s", result.Source)
	}
	if len(result.Files) != 0 {
		t.Errorf("Expected no invented files, got %+v", result.Files)
	}
	if !strings.Contains(result.Message, "cursor/plan") {
		t.Errorf("Expected message to point at the plan branch, got %q", result.Message)
	}
	if h.store.get("sess-1").Status != models.SessionStatusCompleted {
		t.Error("Expected the session to complete")
	}
}

func TestExecuteBuild_WithoutPlanIsRejectedBeforeAnyCall(t *testing.T) {
	api := newFakeAgent()
	h := newHarness(testConfig(), api, planningSession())

	_, err := h.orch.ExecuteBuild(context.Background(), planningSession())

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if create, polls, _ := api.calls(); create != 0 || polls != 0 {
		t.Errorf("Expected no remote calls, got create=%d poll=%d", create, polls)
	}
	if h.store.get("sess-1").Status != models.SessionStatusPlanning {
		t.Error("Expected status to stay planning")
	}
}

func TestExecuteBuild_TimeoutFallsBackWithOneTimeoutEvent(t *testing.T) {
	cfg := testConfig()
	cfg.BuildTimeout = 60 * time.Millisecond
	api := newFakeAgent(running())

	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan", Files: []models.PlanFile{{Path: "src/index.ts"}, {Path: "README.md"}}}
	h := newHarness(cfg, api, session)

	start := time.Now()
	result, err := h.orch.ExecuteBuild(context.Background(), session)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("ExecuteBuild failed: %v", err)
	}
	if elapsed > cfg.BuildTimeout+500*time.Millisecond {
		t.Errorf("Expected result within budget plus a small constant, took %s", elapsed)
	}
	if result.Source != models.SourceFallback {
		t.Errorf("Expected fallback source, got %s", result.Source)
	}
	if len(result.Files) != 2 || result.Files[0].Path != "src/index.ts" {
		t.Errorf("Expected stubs for the plan's files, got %+v", result.Files)
	}

	timeouts := h.entriesWithKind("timeout")
	if len(timeouts) != 1 {
		t.Fatalf("Expected exactly one timeout event, got %d", len(timeouts))
	}
	if attempts, _ := timeouts[0].Data["poll_attempts"].(int); attempts < 2 {
		t.Errorf("Expected poll attempts on the timeout event, got %v", timeouts[0].Data["poll_attempts"])
	}
	if h.store.get("sess-1").Status != models.SessionStatusCompleted {
		t.Error("Expected a fallback build to complete the session")
	}
}

func TestExecuteBuild_CancellationMarksError(t *testing.T) {
	api := newFakeAgent(running())
	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan"}
	h := newHarness(testConfig(), api, session)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := h.orch.ExecuteBuild(ctx, session)

	var cancelErr *CancellationError
	if !errors.As(err, &cancelErr) {
		t.Fatalf("Expected CancellationError, got %v", err)
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		t.Error("Cancellation must not be reported as a timeout")
	}
	if h.store.get("sess-1").Status != models.SessionStatusError {
		t.Errorf("Expected error status, got %s", h.store.get("sess-1").Status)
	}
	if len(h.artifacts.saved) != 0 {
		t.Error("Expected no artifacts after cancellation")
	}
}

func TestExecuteBuild_ArtifactFailureMarksError(t *testing.T) {
	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan"}
	h := newHarness(testConfig(), nil, session)
	h.artifacts.err = errStoreDown

	_, err := h.orch.ExecuteBuild(context.Background(), session)

	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Expected artifact error, got %v", err)
	}
	if h.store.get("sess-1").Status != models.SessionStatusError {
		t.Errorf("Expected error status, got %s", h.store.get("sess-1").Status)
	}
}

func TestExecuteBuild_AgentFailureFallsBack(t *testing.T) {
	api := newFakeAgent(running(), pollResult{snapshot: &agent.Snapshot{ID: "bc-1", Status: agent.StatusFailed, Summary: "out of credits"}})
	session := planningSession()
	session.Plan = &models.Plan{Summary: "plan"}
	h := newHarness(testConfig(), api, session)

	result, err := h.orch.ExecuteBuild(context.Background(), session)
	if err != nil {
		t.Fatalf("ExecuteBuild failed: %v", err)
	}
	if result.Source != models.SourceFallback {
		t.Errorf("Expected fallback, got %s", result.Source)
	}
	if len(h.entriesWithKind("agent_failure")) != 1 {
		t.Error("Expected one agent_failure event")
	}
}

func TestPoll_TransportFailuresRetriedOnNextTick(t *testing.T) {
	transient := pollResult{err: &agent.TransportError{Op: "poll", StatusCode: 502}}
	api := newFakeAgent(transient, transient, finished("done"))
	h := newHarness(testConfig(), api, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Source != models.SourceRemote {
		t.Errorf("Expected the poll loop to recover, got %s", plan.Source)
	}
	if _, polls, _ := api.calls(); polls != 3 {
		t.Errorf("Expected 3 polls, got %d", polls)
	}
}

func TestPoll_ConsecutiveTransportFailuresEscalate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollFailures = 2
	api := newFakeAgent(pollResult{err: &agent.TransportError{Op: "poll", StatusCode: 503}})
	h := newHarness(cfg, api, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Source != models.SourceFallback {
		t.Errorf("Expected fallback, got %s", plan.Source)
	}
	if _, polls, _ := api.calls(); polls != 2 {
		t.Errorf("Expected 2 polls before escalating, got %d", polls)
	}
	if len(h.entriesWithKind("transport")) != 1 {
		t.Error("Expected one transport event")
	}
}

func TestPoll_ParseErrorEscalatesImmediately(t *testing.T) {
	api := newFakeAgent(pollResult{err: &agent.ParseError{Op: "poll", Err: errors.New("unknown status")}})
	h := newHarness(testConfig(), api, planningSession())

	plan, err := h.orch.CreatePlan(context.Background(), planningSession(), PlanContext{ProjectName: "Alpha"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Source != models.SourceFallback {
		t.Errorf("Expected fallback, got %s", plan.Source)
	}
	if _, polls, _ := api.calls(); polls != 1 {
		t.Errorf("Expected a single poll, got %d", polls)
	}
	if len(h.entriesWithKind("parse")) != 1 {
		t.Error("Expected one parse event")
	}
}

func TestSendMessage_WithoutAgentMakesNoNetworkCall(t *testing.T) {
	api := newFakeAgent()
	h := newHarness(testConfig(), api, planningSession())

	reply, err := h.orch.SendMessage(context.Background(), planningSession(), "help")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if create, polls, followups := api.calls(); create+polls+followups != 0 {
		t.Errorf("Expected no network calls, got create=%d poll=%d followup=%d", create, polls, followups)
	}
	if reply.Source != models.SourceFallback {
		t.Errorf("Expected fallback source, got %s", reply.Source)
	}

	again, _ := h.orch.SendMessage(context.Background(), planningSession(), "help")
	if again.Response != reply.Response {
		t.Error("Expected a deterministic local reply")
	}

	history := h.store.get("sess-1").ChatHistory
	if len(history) != 4 {
		t.Fatalf("Expected 4 history entries, got %d", len(history))
	}
	for i, msg := range history {
		wantRole := models.ChatRoleUser
		if i%2 == 1 {
			wantRole = models.ChatRoleAssistant
		}
		if msg.Role != wantRole {
			t.Errorf("Expected entry %d to be %s, got %s", i, wantRole, msg.Role)
		}
	}
}

func TestSendMessage_LongSummaryReplacedByPointer(t *testing.T) {
	long := strings.Repeat("x", 1500)
	api := newFakeAgent(running(), finished(long))

	session := planningSession()
	session.RemoteLink = models.RemoteLink{AgentID: "bc-1", BranchName: "cursor/work", AgentURL: "https://cursor.com/agents?id=bc-1"}
	h := newHarness(testConfig(), api, session)

	reply, err := h.orch.SendMessage(context.Background(), session, "rename the button")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if reply.Response == long {
		t.Fatal("Expected the over-long summary to be rejected")
	}
	if !strings.Contains(reply.Response, "https://cursor.com/agents?id=bc-1") {
		t.Errorf("Expected a pointer to the agent, got %q", reply.Response)
	}
	if reply.Source != models.SourceRemote {
		t.Errorf("Expected remote source, got %s", reply.Source)
	}
	if _, _, followups := api.calls(); followups != 1 {
		t.Errorf("Expected one follow-up, got %d", followups)
	}
	if len(h.store.get("sess-1").ChatHistory) != 2 {
		t.Error("Expected exactly one user and one assistant entry")
	}
}

func TestSendMessage_FollowupFailureFallsBack(t *testing.T) {
	api := newFakeAgent()
	api.followupErr = &agent.TransportError{Op: "followup", StatusCode: 500}

	session := planningSession()
	session.AgentID = "bc-1"
	h := newHarness(testConfig(), api, session)

	reply, err := h.orch.SendMessage(context.Background(), session, "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply.Source != models.SourceFallback {
		t.Errorf("Expected fallback, got %s", reply.Source)
	}
	if _, polls, _ := api.calls(); polls != 0 {
		t.Errorf("Expected no polling after a failed follow-up, got %d", polls)
	}
}

func TestSendMessage_CancellationKeepsHistoryPaired(t *testing.T) {
	api := newFakeAgent(running())
	session := planningSession()
	session.AgentID = "bc-1"
	h := newHarness(testConfig(), api, session)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := h.orch.SendMessage(ctx, session, "hello")
	if !IsCancellation(err) {
		t.Fatalf("Expected CancellationError, got %v", err)
	}

	history := h.store.get("sess-1").ChatHistory
	if len(history) != 2 || history[1].Role != models.ChatRoleAssistant {
		t.Errorf("Expected a paired history, got %+v", history)
	}
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	h := newHarness(testConfig(), nil, planningSession())

	_, err := h.orch.SendMessage(context.Background(), planningSession(), "   ")
	if !IsValidation(err) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(h.store.get("sess-1").ChatHistory) != 0 {
		t.Error("Expected nothing appended")
	}
}
