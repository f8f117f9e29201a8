package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agentforge/internal/config"
	"agentforge/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultAgentConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL
	cfg.RequestsPerSec = 0

	return NewClient(cfg, logging.Discard()), server
}

func TestClient_CreateAgent(t *testing.T) {
	var gotBody map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Fatalf("Failed to parse request body: %v", err)
		}
		w.Write([]byte(`{"id":"bc-123","name":"plan","status":"CREATING","target":{"branchName":"cursor/plan-1","url":"https://cursor.com/agents?id=bc-123"}}`))
	})

	handle, err := client.CreateAgent(context.Background(), CreateRequest{
		Prompt: "build a login page",
		Source: &SourceRef{Repository: "https://github.com/acme/alpha", Ref: "main"},
	})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if handle.ID != "bc-123" {
		t.Errorf("Expected id bc-123, got %s", handle.ID)
	}
	if handle.Status != StatusCreating {
		t.Errorf("Expected CREATING, got %s", handle.Status)
	}
	if handle.Target.BranchName != "cursor/plan-1" {
		t.Errorf("Expected branch cursor/plan-1, got %s", handle.Target.BranchName)
	}

	prompt, _ := gotBody["prompt"].(map[string]interface{})
	if prompt["text"] != "build a login page" {
		t.Errorf("Expected prompt text in body, got %v", gotBody["prompt"])
	}
	source, _ := gotBody["source"].(map[string]interface{})
	if source["repository"] != "https://github.com/acme/alpha" || source["ref"] != "main" {
		t.Errorf("Expected source reference in body, got %v", gotBody["source"])
	}
	if _, ok := source["path"]; ok {
		t.Error("Expected empty path to be omitted")
	}
}

func TestClient_CreateAgent_NonSuccessIsTransportError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	})

	_, err := client.CreateAgent(context.Background(), CreateRequest{Prompt: "x"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", transportErr.StatusCode)
	}
	if transportErr.Op != "create" {
		t.Errorf("Expected op create, got %s", transportErr.Op)
	}
}

func TestClient_CreateAgent_MissingIDIsParseError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"CREATING"}`))
	})

	_, err := client.CreateAgent(context.Background(), CreateRequest{Prompt: "x"})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
}

func TestClient_PollStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/agents/bc-123" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":"bc-123","status":"finished","summary":"Added login","target":{"branchName":"b","url":"u"}}`))
	})

	snapshot, err := client.PollStatus(context.Background(), "bc-123")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	if snapshot.Status != StatusFinished {
		t.Errorf("Expected FINISHED, got %s", snapshot.Status)
	}
	if snapshot.RawStatus != "finished" {
		t.Errorf("Expected raw status to be kept, got %s", snapshot.RawStatus)
	}
	if snapshot.Summary != "Added login" {
		t.Errorf("Expected summary, got %q", snapshot.Summary)
	}
}

func TestClient_PollStatus_Unreachable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.PollStatus(context.Background(), "bc-123")

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != 0 {
		t.Errorf("Expected no status code for a connection failure, got %d", transportErr.StatusCode)
	}
}

func TestClient_SendFollowup(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/agents/bc-123/followup" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload followupPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Failed to decode follow-up: %v", err)
		}
		if payload.Prompt.Text != "rename the button" {
			t.Errorf("Expected follow-up text, got %q", payload.Prompt.Text)
		}
		w.Write([]byte(`{"id":"bc-123"}`))
	})

	if err := client.SendFollowup(context.Background(), "bc-123", "rename the button"); err != nil {
		t.Fatalf("SendFollowup failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected exactly one request, got %d", calls)
	}
}

func TestClient_NoRetries(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	if err := client.SendFollowup(context.Background(), "bc-123", "hi"); err == nil {
		t.Fatal("Expected an error for 502")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected the client not to retry, got %d requests", calls)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"id":"bc-123","status":"RUNNING"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.PollStatus(ctx, "bc-123")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled to be reachable through the error, got %v", err)
	}
}
