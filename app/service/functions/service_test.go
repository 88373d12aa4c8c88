package functions

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sibyl/app/config"
	"sibyl/app/service/memory"

	"github.com/samber/do"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	cfg := &config.Config{}
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory.jsonl")
	cfg.Memory.Limit = 100
	cfg.Tools.InputCommand = "xdotool"

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	do.ProvideValue(di, cfg)
	do.Provide(di, memory.New)
	do.Provide(di, New)

	return do.MustInvoke[*Registry](di)
}

func TestListContainsBuiltins(t *testing.T) {
	r := newTestRegistry(t)

	names := map[string]bool{}
	for _, def := range r.List() {
		names[def.Name] = true
	}

	for _, want := range []string{
		"get_current_time", "search_memory", "read_screen_text",
		"click", "type_text", "press_key", "press_tab", "scroll",
	} {
		if !names[want] {
			t.Fatalf("builtin %s missing from catalog", want)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), "does_not_exist", nil)
	if result.Success {
		t.Fatalf("unknown tool reported success")
	}
	if !strings.Contains(result.Error, "unknown function") {
		t.Fatalf("got error %q", result.Error)
	}
}

func TestExecuteGetCurrentTime(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), "get_current_time", map[string]any{"format": "iso"})
	if !result.Success {
		t.Fatalf("execute failed: %s", result.Error)
	}

	text, ok := result.Data.(string)
	if !ok {
		t.Fatalf("got data %T, want string", result.Data)
	}
	if _, err := time.Parse(time.RFC3339, text); err != nil {
		t.Fatalf("not an RFC3339 timestamp: %q", text)
	}
}

func TestExecuteSearchMemory(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.memorySvc.Add(memory.SourceScreen, "invoice total 42 euros"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result := r.Execute(context.Background(), "search_memory", map[string]any{"query": "invoice"})
	if !result.Success {
		t.Fatalf("execute failed: %s", result.Error)
	}

	records, ok := result.Data.([]any)
	if !ok || len(records) != 1 {
		t.Fatalf("got data %#v, want one record", result.Data)
	}
}

func TestExecuteToolErrorBecomesResult(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{Name: "boom"}, &builtinTool{
		name: "boom",
		call: func(context.Context, string) (string, error) {
			return "", errors.New("exploded")
		},
	})

	result := r.Execute(context.Background(), "boom", map[string]any{})
	if result.Success {
		t.Fatalf("failing tool reported success")
	}
	if result.Error != "exploded" {
		t.Fatalf("got error %q", result.Error)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{Name: "panics"}, &builtinTool{
		name: "panics",
		call: func(context.Context, string) (string, error) {
			panic("kaboom")
		},
	})

	result := r.Execute(context.Background(), "panics", nil)
	if result.Success {
		t.Fatalf("panicking tool reported success")
	}
	if !strings.Contains(result.Error, "kaboom") {
		t.Fatalf("got error %q", result.Error)
	}
}

func TestDuplicateRegistrationIgnored(t *testing.T) {
	r := newTestRegistry(t)

	before := len(r.List())
	r.Register(Definition{Name: "get_current_time"}, &builtinTool{
		name: "get_current_time",
		call: func(context.Context, string) (string, error) {
			return "shadow", nil
		},
	})

	if len(r.List()) != before {
		t.Fatalf("duplicate registration extended the catalog")
	}

	result := r.Execute(context.Background(), "get_current_time", map[string]any{"format": "iso"})
	if !result.Success || result.Data == "shadow" {
		t.Fatalf("duplicate registration replaced the implementation")
	}
}

func TestExecuteRawStringOutput(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{Name: "plain"}, &builtinTool{
		name: "plain",
		call: func(context.Context, string) (string, error) {
			return "not json at all", nil
		},
	})

	result := r.Execute(context.Background(), "plain", nil)
	if !result.Success {
		t.Fatalf("execute failed: %s", result.Error)
	}
	if result.Data != "not json at all" {
		t.Fatalf("got data %#v", result.Data)
	}
}
