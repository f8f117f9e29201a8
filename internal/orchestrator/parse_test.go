package orchestrator

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"agentforge/internal/agent"
	"agentforge/internal/models"
)

const uiBase = "https://cursor.com/agents"

func TestParse_TerminalSnapshotIsIdempotent(t *testing.T) {
	terminal := &agent.Snapshot{
		ID:      "bc-7",
		Status:  agent.StatusFinished,
		Summary: "Done.\n\n```go:main.go\npackage main\n```\n\n```md:README.md\n# Hi\n```",
		Target:  agent.Target{BranchName: "cursor/b", URL: "https://cursor.com/agents?id=bc-7"},
	}
	api := newFakeAgent(pollResult{snapshot: terminal})

	first, err := api.PollStatus(context.Background(), "bc-7")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	second, err := api.PollStatus(context.Background(), "bc-7")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}

	if !reflect.DeepEqual(parsePlan(first, uiBase), parsePlan(second, uiBase)) {
		t.Error("Expected identical plans from identical terminal snapshots")
	}
	firstBuild, _ := parseBuild(first, uiBase)
	secondBuild, _ := parseBuild(second, uiBase)
	if !reflect.DeepEqual(firstBuild, secondBuild) {
		t.Error("Expected identical build results from identical terminal snapshots")
	}
	againBuild, _ := parseBuild(first, uiBase)
	if !reflect.DeepEqual(firstBuild, againBuild) {
		t.Error("Expected parsing the same snapshot twice to be stable")
	}
}

func TestParsePlan_EmptySummaryNamesBranch(t *testing.T) {
	plan := parsePlan(&agent.Snapshot{ID: "bc-2", Status: agent.StatusFinished, Target: agent.Target{BranchName: "cursor/plan-x"}}, uiBase)

	if plan.Summary == "" {
		t.Fatal("Expected a non-empty summary")
	}
	if !strings.Contains(plan.Summary, "cursor/plan-x") || !strings.Contains(plan.Summary, uiBase+"?id=bc-2") {
		t.Errorf("Expected branch and agent URL in the summary, got %q", plan.Summary)
	}
	if plan.AgentURL != uiBase+"?id=bc-2" {
		t.Errorf("Expected synthesized agent URL, got %q", plan.AgentURL)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Description != plan.Summary {
		t.Errorf("Expected one step carrying the summary, got %+v", plan.Steps)
	}
	if plan.Files == nil {
		t.Error("Expected an empty, non-nil file list")
	}
}

func TestExtractFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []models.BuildFile
	}{
		{
			name: "single block",
			body: "```ts:src/a.ts\nconsole.log(1)\n```",
			want: []models.BuildFile{{Path: "src/a.ts", Content: "console.log(1)", Language: "ts"}},
		},
		{
			name: "language is lower-cased and path trimmed",
			body: "```Python: scripts/run.py \nprint('hi')\n\n```",
			want: []models.BuildFile{{Path: "scripts/run.py", Content: "print('hi')", Language: "python"}},
		},
		{
			name: "plain blocks are ignored",
			body: "```bash\nnpm test\n```\n\n```\nno info\n```\n\n```go:cmd/main.go\npackage main\n\nfunc main() {}\n```",
			want: []models.BuildFile{{Path: "cmd/main.go", Content: "package main\n\nfunc main() {}", Language: "go"}},
		},
		{
			name: "blocks inside lists",
			body: "- first\n\n  ```js:a.js\n  let a = 1\n  ```\n",
			want: []models.BuildFile{{Path: "a.js", Content: "let a = 1", Language: "js"}},
		},
		{
			name: "no blocks",
			body: "All changes are on the branch.",
			want: []models.BuildFile{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractFiles(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractFiles() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseBuild_NoBlocksPointsAtBranch(t *testing.T) {
	result, _ := parseBuild(&agent.Snapshot{
		ID:      "bc-3",
		Status:  agent.StatusFinished,
		Summary: "Pushed everything.",
		Target:  agent.Target{BranchName: "cursor/build", URL: "https://cursor.com/agents?id=bc-3"},
	}, uiBase)

	if result.Status != models.BuildStatusCompleted {
		t.Errorf("Expected completed, got %s", result.Status)
	}
	if len(result.Files) != 0 {
		t.Errorf("Expected no files, got %d", len(result.Files))
	}
	if !strings.Contains(result.Message, "cursor/build") {
		t.Errorf("Expected message to name the branch, got %q", result.Message)
	}
}

func TestParseBuild_DuplicateAndUnsafePaths(t *testing.T) {
	summary := "Revised.\n\n" +
		"```ts:src/a.ts\nconsole.log(1)\n```\n\n" +
		"```ts:./src/b.ts\nexport {}\n```\n\n" +
		"```ts:src/a.ts\nconsole.log(2)\n```\n\n" +
		"```sh:../escape.sh\nrm -rf /\n```\n\n" +
		"```json:metadata.json\n{}\n```\n"

	result, dropped := parseBuild(&agent.Snapshot{ID: "bc-6", Status: agent.StatusFinished, Summary: summary}, uiBase)

	want := []models.BuildFile{
		{Path: "src/a.ts", Content: "console.log(2)", Language: "ts"},
		{Path: "src/b.ts", Content: "export {}", Language: "ts"},
	}
	if !reflect.DeepEqual(result.Files, want) {
		t.Errorf("Files = %+v, want %+v", result.Files, want)
	}
	if !reflect.DeepEqual(dropped, []string{"../escape.sh", "metadata.json"}) {
		t.Errorf("dropped = %v, want the traversal and reserved paths", dropped)
	}
	if !strings.Contains(result.Message, "Generated 2 files") {
		t.Errorf("Expected message to count the kept files, got %q", result.Message)
	}
}

func TestChatResponse_Precedence(t *testing.T) {
	long := strings.Repeat("あ", 1000)

	tests := []struct {
		name     string
		snapshot agent.Snapshot
		want     string
	}{
		{
			name: "last message wins",
			snapshot: agent.Snapshot{
				Messages: []agent.Message{{Content: "first"}, {Text: "last"}},
				Response: "response", Summary: "summary",
			},
			want: "last",
		},
		{
			name:     "response field next",
			snapshot: agent.Snapshot{Messages: []agent.Message{{Content: " "}}, Response: "response", Summary: "summary"},
			want:     "response",
		},
		{
			name:     "short summary",
			snapshot: agent.Snapshot{Summary: "summary"},
			want:     "summary",
		},
		{
			name:     "summary at the limit is rejected",
			snapshot: agent.Snapshot{ID: "bc-4", Summary: long},
			want:     "Agent UI: " + uiBase + "?id=bc-4",
		},
		{
			name:     "nothing usable",
			snapshot: agent.Snapshot{ID: "bc-5", Target: agent.Target{BranchName: "cursor/c"}},
			want:     "Branch: cursor/c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chatResponse(&tt.snapshot, 1000, uiBase)
			if !strings.Contains(got, tt.want) {
				t.Errorf("chatResponse() = %q, want it to contain %q", got, tt.want)
			}
			if tt.name == "summary at the limit is rejected" && strings.Contains(got, long) {
				t.Error("Expected the long summary to be dropped")
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&agent.TransportError{Op: "create", StatusCode: 500}, ErrorKindTransport},
		{&agent.TransportError{Op: "create", Err: context.Canceled}, ErrorKindCancelled},
		{&agent.ParseError{Op: "poll"}, ErrorKindParse},
		{&AgentFailureError{Status: agent.StatusCancelled}, ErrorKindAgentFailure},
		{&TimeoutError{}, ErrorKindTimeout},
		{&CancellationError{Err: context.Canceled}, ErrorKindCancelled},
		{validationErrorf("bad"), ErrorKindValidation},
		{ErrAgentUnconfigured, ErrorKindUnconfigured},
		{ErrNoRemoteAgent, ErrorKindNoAgent},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if ErrorKindCancelled.Recoverable() || ErrorKindValidation.Recoverable() {
		t.Error("Expected cancellation and validation to bypass the fallback")
	}
	if !ErrorKindTimeout.Recoverable() {
		t.Error("Expected timeouts to fall back")
	}
}
