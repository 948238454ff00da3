package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexuscore/runtime/internal/broadcaster"
	"github.com/nexuscore/runtime/internal/hooks"
	"github.com/nexuscore/runtime/internal/lanes"
	"github.com/nexuscore/runtime/internal/rollout"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/internal/watchdog"
	"github.com/nexuscore/runtime/pkg/models"
)

type fakeChannels struct{ ch models.Channel }

func (f *fakeChannels) Get(ctx context.Context, channelID int) (models.Channel, bool, error) {
	if channelID != f.ch.ID {
		return models.Channel{}, false, nil
	}
	return f.ch, true, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newFakeSessions() *fakeSessions { return &fakeSessions{sessions: map[string]*models.Session{}} }

func (f *fakeSessions) Resolve(ctx context.Context, channelID int, chatID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chatID
	if s, ok := f.sessions[key]; ok {
		return s, nil
	}
	s := &models.Session{SessionID: "sess-" + key, ChannelID: channelID, ChatID: chatID, CreatedAt: time.Now()}
	f.sessions[key] = s
	return s, nil
}

func (f *fakeSessions) AppendHistory(ctx context.Context, sessionID string, msgs []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.SessionID == sessionID {
			s.History = append(s.History, msgs...)
		}
	}
	return nil
}

type fakeModel struct {
	responses []ModelResponse
	errs      []error
	calls     int
}

func (f *fakeModel) Name() string { return "fake-model" }

func (f *fakeModel) Call(ctx context.Context, messages []models.Message) (ModelResponse, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return ModelResponse{}, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "" }
func (echoTool) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (echoTool) SafetyLevel() toolregistry.SafetyLevel { return toolregistry.ReadOnly }
func (echoTool) Group() string                { return "core" }
func (echoTool) Hidden() bool                 { return false }
func (echoTool) Execute(ctx context.Context, params json.RawMessage, tc *toolregistry.Context) (toolregistry.Result, error) {
	return toolregistry.Result{Success: true, Content: "tool ran"}, nil
}

type fakeSpanStore struct {
	mu    sync.Mutex
	saved []models.Span
}

func (f *fakeSpanStore) SaveSpans(ctx context.Context, rolloutID string, spans []models.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append([]models.Span{}, spans...)
	return nil
}

func newTestDispatcher(model ModelAdapter) (*Dispatcher, *fakeSessions) {
	d, sessions, _ := newTestDispatcherWithSpans(model)
	return d, sessions
}

func newTestDispatcherWithSpans(model ModelAdapter) (*Dispatcher, *fakeSessions, *fakeSpanStore) {
	channel := models.Channel{ID: 1, Type: models.ChannelAPI, ChatID: "c1", Config: models.RolloutConfig{MaxIterations: 5, TimeoutSecs: 60}}
	sessions := newFakeSessions()
	tools := toolregistry.New()
	tools.Register(echoTool{})
	spanStore := &fakeSpanStore{}

	d := New(Dispatcher{
		Channels:    &fakeChannels{ch: channel},
		Sessions:    sessions,
		Spans:       spanStore,
		Broadcaster: broadcaster.New(100, nil),
		Hooks:       hooks.NewRegistry(nil),
		Lanes:       lanes.New(nil),
		Rollouts:    rollout.New(rollout.NewMemStore()),
		Tools:       tools,
		Model:       model,
		Watchdog:    watchdog.Config{DefaultModelTimeout: time.Second, DefaultToolTimeout: time.Second},
	})
	return d, sessions, spanStore
}

func TestDispatchHappyPathNoTools(t *testing.T) {
	d, _ := newTestDispatcher(&fakeModel{responses: []ModelResponse{{Text: "hello"}}})
	res, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("expected response text 'hello', got %q", res.Text)
	}
	if res.Rollout.Status != models.RolloutSucceeded {
		t.Fatalf("expected rollout succeeded, got %s", res.Rollout.Status)
	}
}

func TestDispatchRunsToolCallThenSucceeds(t *testing.T) {
	model := &fakeModel{responses: []ModelResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo"}}},
		{Text: "done"},
	}}
	d, _ := newTestDispatcher(model)
	res, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "do it"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("expected final text 'done', got %q", res.Text)
	}
	if res.Rollout.CurrentAttempt().ToolCalls != 1 {
		t.Fatalf("expected 1 tool call recorded")
	}
}

func TestDispatchUnknownChannelErrors(t *testing.T) {
	d, _ := newTestDispatcher(&fakeModel{responses: []ModelResponse{{Text: "hi"}}})
	_, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 999, ChatID: "c1"})
	if err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestDispatchModelErrorWithoutRetryConditionTerminates(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("boom")}}
	d, _ := newTestDispatcher(model)
	res, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Rollout.Status != models.RolloutFailed {
		t.Fatalf("expected rollout failed, got %s", res.Rollout.Status)
	}
	if res.Err == "" {
		t.Fatalf("expected terminal failure reason set")
	}
}

func TestDispatchSessionHistoryUpdatedAfterSuccess(t *testing.T) {
	d, sessions := newTestDispatcher(&fakeModel{responses: []ModelResponse{{Text: "hello"}}})
	_, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	s, _ := sessions.Resolve(context.Background(), 1, "c1")
	if len(s.History) != 2 {
		t.Fatalf("expected 2 history turns (user+assistant), got %d", len(s.History))
	}
}

func TestDispatchSecondMessageReusesSameSession(t *testing.T) {
	d, sessions := newTestDispatcher(&fakeModel{responses: []ModelResponse{{Text: "a"}, {Text: "b"}}})
	ctx := context.Background()
	d.Dispatch(ctx, NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "first"})
	d.Dispatch(ctx, NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "second"})
	s, _ := sessions.Resolve(ctx, 1, "c1")
	if len(s.History) != 4 {
		t.Fatalf("expected 4 history turns across both dispatches, got %d", len(s.History))
	}
}

func TestDispatchHappyPathEmitsLlmCallWatchdogRolloutSpans(t *testing.T) {
	d, _, spanStore := newTestDispatcherWithSpans(&fakeModel{responses: []ModelResponse{{Text: "hello"}}})
	_, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	spanStore.mu.Lock()
	defer spanStore.mu.Unlock()

	counts := map[models.SpanType]int{}
	for _, s := range spanStore.saved {
		counts[s.SpanType]++
		if s.Status != models.SpanSucceeded {
			t.Errorf("span %s: expected Succeeded, got %s", s.SpanType, s.Status)
		}
	}
	if counts[models.SpanLlmCall] != 1 {
		t.Errorf("expected 1 LlmCall span, got %d", counts[models.SpanLlmCall])
	}
	if counts[models.SpanWatchdog] != 1 {
		t.Errorf("expected 1 Watchdog span, got %d", counts[models.SpanWatchdog])
	}
	if counts[models.SpanRollout] != 1 {
		t.Errorf("expected 1 Rollout span, got %d", counts[models.SpanRollout])
	}
}

func TestDispatchToolCallEmitsToolCallSpanAndEvents(t *testing.T) {
	model := &fakeModel{responses: []ModelResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Input: json.RawMessage(`{"msg":"hi"}`)}}},
		{Text: "done"},
	}}
	d, _, spanStore := newTestDispatcherWithSpans(model)

	id, ch := d.Broadcaster.Subscribe()
	defer d.Broadcaster.Unsubscribe(id)

	_, err := d.Dispatch(context.Background(), NormalizedMessage{ChannelID: 1, ChatID: "c1", Text: "do it"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	spanStore.mu.Lock()
	var toolSpans, llmSpans int
	for _, s := range spanStore.saved {
		switch s.SpanType {
		case models.SpanToolCall:
			toolSpans++
			if s.Attributes["tool_name"] != "echo" {
				t.Errorf("expected tool_call span tool_name=echo, got %v", s.Attributes["tool_name"])
			}
			if s.Status != models.SpanSucceeded {
				t.Errorf("expected tool_call span Succeeded, got %s", s.Status)
			}
		case models.SpanLlmCall:
			llmSpans++
		}
	}
	spanStore.mu.Unlock()
	if toolSpans != 1 {
		t.Errorf("expected 1 ToolCall span, got %d", toolSpans)
	}
	if llmSpans != 2 {
		t.Errorf("expected 2 LlmCall spans, got %d", llmSpans)
	}

	var sawToolCall, sawToolResult bool
	var toolCallBeforeResult bool
	for done := false; !done; {
		select {
		case ev := <-ch:
			switch ev.Event {
			case models.EventAgentToolCall:
				sawToolCall = true
				if !sawToolResult {
					toolCallBeforeResult = true
				}
				if ev.Data["tool_name"] != "echo" {
					t.Errorf("expected agent.tool_call tool_name=echo, got %v", ev.Data["tool_name"])
				}
			case models.EventToolResult:
				sawToolResult = true
				if ev.Data["tool_name"] != "echo" {
					t.Errorf("expected tool.result tool_name=echo, got %v", ev.Data["tool_name"])
				}
				if ev.Data["success"] != true {
					t.Errorf("expected tool.result success=true, got %v", ev.Data["success"])
				}
				if _, ok := ev.Data["duration_ms"]; !ok {
					t.Errorf("expected tool.result to carry duration_ms")
				}
				if ev.Data["content"] != "tool ran" {
					t.Errorf("expected tool.result content='tool ran', got %v", ev.Data["content"])
				}
			}
		default:
			done = true
		}
	}
	if !sawToolCall {
		t.Error("expected an agent.tool_call event")
	}
	if !sawToolResult {
		t.Error("expected a tool.result event")
	}
	if !toolCallBeforeResult {
		t.Error("expected agent.tool_call to precede tool.result")
	}
}
