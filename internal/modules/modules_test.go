package modules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscore/runtime/internal/broadcaster"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/pkg/models"
)

type fakeTool struct{ name, group string }

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "" }
func (f *fakeTool) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (f *fakeTool) SafetyLevel() toolregistry.SafetyLevel { return toolregistry.Standard }
func (f *fakeTool) Group() string                { return f.group }
func (f *fakeTool) Hidden() bool                 { return false }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage, tc *toolregistry.Context) (toolregistry.Result, error) {
	return toolregistry.Result{Success: true}, nil
}

type fakeHandle struct{ aborted bool }

func (h *fakeHandle) Abort() { h.aborted = true }

type fakeModule struct {
	info   models.ModuleInfo
	handle *fakeHandle
	worker bool
}

func (m *fakeModule) Info() models.ModuleInfo { return m.info }
func (m *fakeModule) CreateTools() []toolregistry.Tool {
	return []toolregistry.Tool{&fakeTool{name: m.info.Name + "_tool", group: "module:" + m.info.Name}}
}
func (m *fakeModule) SpawnWorker(db DB, b *broadcaster.Broadcaster, d Dispatcher) (WorkerHandle, error) {
	if !m.worker {
		return nil, nil
	}
	m.handle = &fakeHandle{}
	return m.handle, nil
}
func (m *fakeModule) InitTables(db DB) error { return nil }

func newManager() (*Manager, *fakeModule) {
	tools := toolregistry.New()
	mgr := New(Config{Store: NewMemStore(), Tools: tools})
	mod := &fakeModule{info: models.ModuleInfo{Name: "weather", Version: "1.0.0", HasWorker: true}, worker: true}
	mgr.Register(mod)
	return mgr, mod
}

func TestInstallActivatesToolsAndWorker(t *testing.T) {
	mgr, mod := newManager()
	if err := mgr.Install(context.Background(), "weather"); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, ok := mgr.tools.Get("weather_tool"); !ok {
		t.Fatalf("expected tool registered after install")
	}
	if mod.handle == nil || mod.handle.aborted {
		t.Fatalf("expected worker spawned and not aborted")
	}
}

func TestInstallRejectsMissingRequiredKey(t *testing.T) {
	tools := toolregistry.New()
	mgr := New(Config{Store: NewMemStore(), Tools: tools, HasKey: func(string) bool { return false }})
	mod := &fakeModule{info: models.ModuleInfo{Name: "weather", RequiredAPIKeys: []string{"WEATHER_KEY"}}}
	mgr.Register(mod)
	if err := mgr.Install(context.Background(), "weather"); err == nil {
		t.Fatalf("expected install to fail on missing key")
	}
}

func TestInstallTwiceFails(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()
	if err := mgr.Install(ctx, "weather"); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if err := mgr.Install(ctx, "weather"); err == nil {
		t.Fatalf("expected second install to fail")
	}
}

func TestUninstallDeactivatesAndRemovesRecord(t *testing.T) {
	mgr, mod := newManager()
	ctx := context.Background()
	mgr.Install(ctx, "weather")
	if err := mgr.Uninstall(ctx, "weather"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, ok := mgr.tools.Get("weather_tool"); ok {
		t.Fatalf("expected tool unregistered after uninstall")
	}
	if !mod.handle.aborted {
		t.Fatalf("expected worker aborted after uninstall")
	}
	if _, found, _ := mgr.store.Get(ctx, "weather"); found {
		t.Fatalf("expected install record removed")
	}
}

func TestDisableThenEnableReactivates(t *testing.T) {
	mgr, mod := newManager()
	ctx := context.Background()
	mgr.Install(ctx, "weather")
	if err := mgr.Disable(ctx, "weather"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, ok := mgr.tools.Get("weather_tool"); ok {
		t.Fatalf("expected tool unregistered after disable")
	}
	if !mod.handle.aborted {
		t.Fatalf("expected worker aborted after disable")
	}
	if err := mgr.Enable(ctx, "weather"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, ok := mgr.tools.Get("weather_tool"); !ok {
		t.Fatalf("expected tool re-registered after enable")
	}
}

func TestReloadReactivatesOnlyEnabledModules(t *testing.T) {
	tools := toolregistry.New()
	store := NewMemStore()
	mgr := New(Config{Store: store, Tools: tools})
	enabled := &fakeModule{info: models.ModuleInfo{Name: "enabled", HasWorker: true}, worker: true}
	disabled := &fakeModule{info: models.ModuleInfo{Name: "disabled", HasWorker: true}, worker: true}
	mgr.Register(enabled)
	mgr.Register(disabled)

	ctx := context.Background()
	mgr.Install(ctx, "enabled")
	mgr.Install(ctx, "disabled")
	mgr.Disable(ctx, "disabled")

	if err := mgr.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := tools.Get("enabled_tool"); !ok {
		t.Fatalf("expected enabled module's tool present after reload")
	}
	if _, ok := tools.Get("disabled_tool"); ok {
		t.Fatalf("expected disabled module's tool absent after reload")
	}
}

func TestActivateIsIdempotentOnReinstallLikeCalls(t *testing.T) {
	mgr, mod := newManager()
	ctx := context.Background()
	mgr.Install(ctx, "weather")
	first := mod.handle
	mgr.mu.Lock()
	err := mgr.activateLocked(ctx, "weather", mod)
	mgr.mu.Unlock()
	if err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if !first.aborted {
		t.Fatalf("expected prior worker handle aborted on re-activation")
	}
	if mod.handle == first {
		t.Fatalf("expected a fresh worker handle after re-activation")
	}
}
