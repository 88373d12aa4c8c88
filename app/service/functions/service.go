package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"sibyl/app/config"
	"sibyl/app/service/memory"

	"github.com/samber/do"
	"github.com/tmc/langchaingo/tools"
)

var _ do.Shutdownable = (*Registry)(nil)

// Registry maps tool names to implementations behind the uniform Result
// contract. Implementations are langchaingo tools; parameters arrive as a
// JSON object string.
type Registry struct {
	cfg       *config.Config
	memorySvc *memory.Service

	mu         sync.RWMutex
	defs       []Definition
	impls      map[string]tools.Tool
	mcpClients []*mcpClientWrapper
}

func New(di *do.Injector) (*Registry, error) {
	r := &Registry{
		cfg:       do.MustInvoke[*config.Config](di),
		memorySvc: do.MustInvoke[*memory.Service](di),
		impls:     make(map[string]tools.Tool),
	}

	r.registerBuiltins()

	if err := r.initializeMCPClients(); err != nil {
		slog.Warn("MCP tool servers unavailable", "error", err)
	}

	return r, nil
}

// Register adds a tool to the catalog. The first registration of a name wins.
func (r *Registry) Register(def Definition, impl tools.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.impls[def.Name]; exists {
		slog.Warn("Duplicate tool registration ignored", "name", def.Name)
		return
	}

	r.defs = append(r.defs, def)
	r.impls[def.Name] = impl
}

// List returns the tool catalog.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, len(r.defs))
	copy(out, r.defs)

	return out
}

// Execute runs a tool by name. It never returns an error: unknown tools,
// panics and call failures all surface inside the Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "name", name, "panic", rec)
			result = Result{Success: false, Error: fmt.Sprintf("function %s panicked: %v", name, rec)}
		}
	}()

	r.mu.RLock()
	impl, ok := r.impls[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown function: %s", name)}
	}

	if params == nil {
		params = map[string]any{}
	}

	input, err := json.Marshal(params)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("invalid parameters: %v", err)}
	}

	slog.Info("Executing tool", "name", name)

	output, err := impl.Call(ctx, string(input))
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	var data any
	if err = json.Unmarshal([]byte(output), &data); err != nil {
		data = output
	}

	return Result{Success: true, Data: data}
}

func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, wrapper := range r.mcpClients {
		if err := wrapper.client.Close(); err != nil {
			slog.Warn("Failed to close MCP client", "name", wrapper.name, "error", err)
		}
	}
	r.mcpClients = nil

	return nil
}
