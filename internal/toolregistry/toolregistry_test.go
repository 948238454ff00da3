package toolregistry

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct {
	name    string
	group   string
	hidden  bool
	safety  SafetyLevel
	execute func(ctx context.Context, params json.RawMessage, tc *Context) (Result, error)
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake tool " + f.name }
func (f *fakeTool) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (f *fakeTool) SafetyLevel() SafetyLevel   { return f.safety }
func (f *fakeTool) Group() string              { return f.group }
func (f *fakeTool) Hidden() bool               { return f.hidden }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage, tc *Context) (Result, error) {
	if f.execute != nil {
		return f.execute(ctx, params, tc)
	}
	return Result{Success: true, Content: "ok"}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "echo", group: "core"})
	tool, ok := r.Get("echo")
	if !ok || tool.Name() != "echo" {
		t.Fatalf("expected to find echo tool")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "echo", group: "a"})
	r.Register(&fakeTool{name: "echo", group: "b"})
	tool, _ := r.Get("echo")
	if tool.Group() != "b" {
		t.Fatalf("expected re-registration to replace, got group %q", tool.Group())
	}
	if len(r.List("")) != 1 {
		t.Fatalf("expected exactly one tool after replace")
	}
}

func TestUnregisterReportsPresence(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "echo"})
	if !r.Unregister("echo") {
		t.Fatalf("expected Unregister to report true for present tool")
	}
	if r.Unregister("echo") {
		t.Fatalf("expected Unregister to report false for already-removed tool")
	}
}

func TestListFiltersByGroup(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "a", group: "core"})
	r.Register(&fakeTool{name: "b", group: "weather"})
	r.Register(&fakeTool{name: "c", group: "weather"})
	if got := len(r.List("weather")); got != 2 {
		t.Fatalf("expected 2 tools in weather group, got %d", got)
	}
	if got := len(r.List("")); got != 3 {
		t.Fatalf("expected 3 tools with no filter, got %d", got)
	}
}

func TestUnregisterGroupRemovesAllMembers(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "a", group: "weather"})
	r.Register(&fakeTool{name: "b", group: "weather"})
	r.Register(&fakeTool{name: "c", group: "core"})
	removed := r.UnregisterGroup("weather")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	if len(r.List("")) != 1 {
		t.Fatalf("expected 1 tool remaining")
	}
}

func TestExecuteMissingToolSynthesizesErrorWithoutGoError(t *testing.T) {
	r := New()
	res, err := r.Execute(context.Background(), "missing", nil, nil)
	if err != nil {
		t.Fatalf("expected no go error, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected unsuccessful result for missing tool")
	}
}

func TestExecuteDispatchesToRegisteredTool(t *testing.T) {
	r := New()
	r.Register(&fakeTool{name: "echo", execute: func(ctx context.Context, params json.RawMessage, tc *Context) (Result, error) {
		return Result{Success: true, Content: "hi"}, nil
	}})
	res, err := r.Execute(context.Background(), "echo", nil, nil)
	if err != nil || !res.Success || res.Content != "hi" {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}
}
