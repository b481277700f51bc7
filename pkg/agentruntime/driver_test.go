package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/pkg/tool"
)

// fakeAgentService scripts the remote service: CreateRun returns
// initialRun, each GetRun pops the next entry of runStates (the last one
// repeats), SubmitToolOutputs returns afterSubmit.
type fakeAgentService struct {
	t *testing.T

	mu             sync.Mutex
	initialRun     Run
	runStates      []Run
	stateIdx       int
	afterSubmit    Run
	listedMessages []Message

	threadsCreated int
	postedContents []string
	submissions    [][]ToolOutput
	cancels        int
}

func newFakeAgentService(t *testing.T) *fakeAgentService {
	return &fakeAgentService{
		t:          t,
		initialRun: Run{ID: "run_1", Status: StatusQueued},
	}
}

func (f *fakeAgentService) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("failed to encode response: %v", err)
	}
}

func (f *fakeAgentService) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.threadsCreated++
		f.mu.Unlock()
		f.writeJSON(w, Thread{ID: "thread_1", CreatedAt: time.Now().Unix()})
	})

	mux.HandleFunc("POST /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("bad message body: %v", err)
		}
		f.mu.Lock()
		f.postedContents = append(f.postedContents, body["content"])
		f.mu.Unlock()
		f.writeJSON(w, map[string]any{
			"id":         "msg_user",
			"thread_id":  r.PathValue("thread"),
			"role":       body["role"],
			"content":    body["content"],
			"created_at": time.Now().Unix(),
		})
	})

	mux.HandleFunc("POST /threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		run := f.initialRun
		f.mu.Unlock()
		run.ThreadID = r.PathValue("thread")
		f.writeJSON(w, run)
	})

	mux.HandleFunc("GET /threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		idx := f.stateIdx
		if idx >= len(f.runStates) {
			idx = len(f.runStates) - 1
		} else {
			f.stateIdx++
		}
		run := f.runStates[idx]
		f.mu.Unlock()
		f.writeJSON(w, run)
	})

	mux.HandleFunc("POST /threads/{thread}/runs/{run}/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []ToolOutput `json:"tool_outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("bad submit body: %v", err)
		}
		f.mu.Lock()
		f.submissions = append(f.submissions, body.ToolOutputs)
		run := f.afterSubmit
		f.mu.Unlock()
		f.writeJSON(w, run)
	})

	mux.HandleFunc("POST /threads/{thread}/runs/{run}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
		f.writeJSON(w, Run{ID: r.PathValue("run"), Status: StatusCancelled})
	})

	mux.HandleFunc("GET /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "asc" {
			f.t.Errorf("list messages order = %q, want asc", got)
		}
		f.mu.Lock()
		msgs := f.listedMessages
		f.mu.Unlock()
		f.writeJSON(w, map[string]any{"object": "list", "data": msgs})
	})

	return httptest.NewServer(mux)
}

func (f *fakeAgentService) client(t *testing.T, baseURL string) *HTTPClient {
	c, err := NewHTTPClient(Config{
		BaseURL:     baseURL,
		APIVersion:  "2025-05-01",
		TokenSource: StaticTokenSource("test-token"),
	})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return c
}

func requiresActionRun(id string, calls ...ToolCallRef) Run {
	return Run{
		ID:     id,
		Status: StatusRequiresAction,
		RequiredAction: &RequiredAction{
			Type:              "submit_tool_outputs",
			SubmitToolOutputs: &SubmitToolOutputsAction{ToolCalls: calls},
		},
	}
}

func assistantMessage(id, runID, text string) Message {
	m := TextMessage(RoleAssistant, text)
	m.ID = id
	m.RunID = runID
	m.CreatedAt = time.Now().Unix()
	return m
}

func TestRunDriverHappyPathWithTools(t *testing.T) {
	fake := newFakeAgentService(t)
	fake.runStates = []Run{
		requiresActionRun("run_1",
			toolCall("call_1", "claim_assessor", `{"context": "collision claim"}`),
			toolCall("call_2", "policy_checker", `{"context": "policy POL-7"}`),
		),
		{ID: "run_1", Status: StatusCompleted, Usage: &RunUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}},
	}
	fake.afterSubmit = Run{ID: "run_1", Status: StatusInProgress}
	fake.listedMessages = []Message{
		assistantMessage("msg_final", "run_1", "ASSESSMENT_COMPLETE\nPRIMARY RECOMMENDATION: APPROVE (HIGH)"),
	}

	srv := fake.server()
	defer srv.Close()

	driver := NewRunDriver(fake.client(t, srv.URL), nil)

	result, err := driver.Run(context.Background(), RunParams{
		AgentID:   "agent_sup",
		AgentName: "supervisor",
		Model:     "gpt-4o",
		Message:   "Process this claim",
		Functions: map[string]tool.Invoker{
			"claim_assessor": func(ctx context.Context, args tool.Arguments) (any, error) {
				return "assessment: severe damage", nil
			},
			"policy_checker": func(ctx context.Context, args tool.Arguments) (any, error) {
				return map[string]any{"covered": true}, nil
			},
		},
		PollInterval:    2 * time.Millisecond,
		MaxPollDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Status != StatusCompleted || result.Failed() {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.ThreadID != "thread_1" || result.RunID != "run_1" {
		t.Errorf("ids = %s/%s", result.ThreadID, result.RunID)
	}
	if result.Usage.TotalTokens != 150 || result.Usage.PromptTokens != 100 {
		t.Errorf("usage = %+v", result.Usage)
	}

	if len(result.ToolResults) != 2 {
		t.Fatalf("tool results = %d, want 2", len(result.ToolResults))
	}
	if result.ToolResults[0].FunctionName != "claim_assessor" || result.ToolResults[0].CallID != "call_1" {
		t.Errorf("first tool result = %+v", result.ToolResults[0])
	}
	if result.ToolResults[1].Output != `{"covered":true}` {
		t.Errorf("second tool output = %q", result.ToolResults[1].Output)
	}

	if len(fake.submissions) != 1 || len(fake.submissions[0]) != 2 {
		t.Fatalf("submissions = %+v, want one batch of two", fake.submissions)
	}
	if fake.submissions[0][0].ToolCallID != "call_1" || fake.submissions[0][1].ToolCallID != "call_2" {
		t.Errorf("submitted ids = %+v", fake.submissions[0])
	}

	if fake.threadsCreated != 1 {
		t.Errorf("threads created = %d, want 1", fake.threadsCreated)
	}

	if got := result.LastAssistantText(); !strings.HasPrefix(got, "ASSESSMENT_COMPLETE") {
		t.Errorf("last assistant text = %q", got)
	}
}

func TestRunDriverReusesThread(t *testing.T) {
	fake := newFakeAgentService(t)
	fake.runStates = []Run{
		{ID: "run_1", Status: StatusCompleted, Usage: &RunUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}
	fake.listedMessages = []Message{
		assistantMessage("msg_1", "run_1", "Here is the updated query result."),
	}

	srv := fake.server()
	defer srv.Close()

	driver := NewRunDriver(fake.client(t, srv.URL), nil)

	result, err := driver.Run(context.Background(), RunParams{
		AgentID:         "agent_analyst",
		AgentName:       "claims_data_analyst",
		Message:         "Please run that query now",
		ThreadID:        "thread_existing",
		PollInterval:    2 * time.Millisecond,
		MaxPollDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fake.threadsCreated != 0 {
		t.Errorf("threads created = %d, want 0 when reusing", fake.threadsCreated)
	}
	if result.ThreadID != "thread_existing" {
		t.Errorf("thread id = %s, want thread_existing", result.ThreadID)
	}
}

func TestRunDriverFailedRunSynthesizesMessage(t *testing.T) {
	fake := newFakeAgentService(t)
	fake.runStates = []Run{
		{ID: "run_1", Status: StatusFailed, LastError: &RunError{Code: "rate_limit_exceeded", Message: "rate limited"}},
	}

	srv := fake.server()
	defer srv.Close()

	driver := NewRunDriver(fake.client(t, srv.URL), nil)

	result, err := driver.Run(context.Background(), RunParams{
		AgentID:         "agent_sup",
		AgentName:       "supervisor",
		Message:         "Process this claim",
		PollInterval:    2 * time.Millisecond,
		MaxPollDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("model-side failure must not return an error, got %v", err)
	}

	if !result.Failed() || result.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if result.FailureReason != "rate limited" {
		t.Errorf("failure reason = %q", result.FailureReason)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 synthesized", len(result.Messages))
	}
	if got := result.Messages[0].Content.TextBody(); got != "Error: Agent run failed - rate limited" {
		t.Errorf("synthesized message = %q", got)
	}
	if !result.Usage.IsZero() {
		t.Errorf("usage = %+v, want zero", result.Usage)
	}
	if len(result.ToolResults) != 0 {
		t.Errorf("tool results = %d, want 0", len(result.ToolResults))
	}
}

func TestRunDriverTimeoutKeepsPartialToolResults(t *testing.T) {
	fake := newFakeAgentService(t)
	fake.runStates = []Run{
		requiresActionRun("run_1", toolCall("call_1", "claim_assessor", `{}`)),
		{ID: "run_1", Status: StatusInProgress},
	}
	fake.afterSubmit = Run{ID: "run_1", Status: StatusInProgress}

	srv := fake.server()
	defer srv.Close()

	driver := NewRunDriver(fake.client(t, srv.URL), nil)

	result, err := driver.Run(context.Background(), RunParams{
		AgentID:   "agent_sup",
		AgentName: "supervisor",
		Message:   "Process this claim",
		Functions: map[string]tool.Invoker{
			"claim_assessor": func(ctx context.Context, args tool.Arguments) (any, error) {
				return "partial assessment", nil
			},
		},
		PollInterval:    5 * time.Millisecond,
		MaxPollDuration: 60 * time.Millisecond,
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if result == nil {
		t.Fatal("timeout must still return a partial result")
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].Output != "partial assessment" {
		t.Errorf("partial tool results = %+v", result.ToolResults)
	}
	if !result.Failed() {
		t.Error("timed-out run must report failed")
	}

	fake.mu.Lock()
	cancels := fake.cancels
	fake.mu.Unlock()
	if cancels != 1 {
		t.Errorf("cancel calls = %d, want 1 best-effort cancel", cancels)
	}
}

func TestRunDriverContextCancellation(t *testing.T) {
	fake := newFakeAgentService(t)
	fake.runStates = []Run{{ID: "run_1", Status: StatusInProgress}}

	srv := fake.server()
	defer srv.Close()

	driver := NewRunDriver(fake.client(t, srv.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := driver.Run(ctx, RunParams{
		AgentID:         "agent_sup",
		AgentName:       "supervisor",
		Message:         "Process this claim",
		PollInterval:    5 * time.Millisecond,
		MaxPollDuration: 10 * time.Second,
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil || !result.Failed() {
		t.Fatal("cancellation must return a failed partial result")
	}

	fake.mu.Lock()
	cancels := fake.cancels
	fake.mu.Unlock()
	if cancels != 1 {
		t.Errorf("cancel calls = %d, want 1", cancels)
	}
}

func TestRunDriverValidation(t *testing.T) {
	driver := NewRunDriver(nil, nil)

	if _, err := driver.Run(context.Background(), RunParams{Message: "hi"}); err == nil {
		t.Error("expected error for missing agent id")
	}
	if _, err := driver.Run(context.Background(), RunParams{AgentID: "a"}); err == nil {
		t.Error("expected error for missing message")
	}
}

func TestMessagesSince(t *testing.T) {
	all := []Message{
		{ID: "old", Role: RoleAssistant, RunID: "run_0", CreatedAt: 100},
		{ID: "msg_user", Role: RoleUser, CreatedAt: 200},
		{ID: "new_run", Role: RoleAssistant, RunID: "run_1", CreatedAt: 90},
		{ID: "unattributed_new", Role: RoleAssistant, CreatedAt: 250},
		{ID: "unattributed_old", Role: RoleAssistant, CreatedAt: 50},
	}

	got := messagesSince(all, 200, "run_1", "msg_user")

	wantIDs := []string{"msg_user", "new_run", "unattributed_new"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d messages, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}
