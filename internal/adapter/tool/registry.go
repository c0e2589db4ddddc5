package tool

import (
	"log/slog"
	"slices"
	"sort"
	"sync"

	"switchboard/internal/domain"
)

// Registry holds named tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds or replaces a tool by name.
//
// The tool is wrapped so Execute validates params against its schema and
// reports failures as *domain.ToolExecutionError. A metadata rate limit is
// enforced by the wrapper as well. If the schema fails to compile the tool is
// still registered, without validation, and a warning is logged.
func (r *Registry) Register(t domain.Tool) {
	name := t.Name()

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
		wrapped = guard(t, nil)
	}
	if rl := t.Metadata().RateLimit; rl != nil && rl.Requests > 0 && rl.Period > 0 {
		wrapped = WithCallBudget(wrapped, NewCallBudget(rl.Requests, rl.Period))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool re-registered, replacing previous entry", "tool", name)
	}
	r.tools[name] = wrapped
}

// Unregister removes a tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Tools returns a snapshot of the registry. Changes to the returned map do
// not affect the registry.
func (r *Registry) Tools() map[string]domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Tool, len(r.tools))
	for name, t := range r.tools {
		out[name] = t
	}
	return out
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns all tool schemas for LLM function-calling, sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	return SchemasOf(r.Tools())
}

// SchemasOf returns the schemas of tools sorted by name.
func SchemasOf(tools map[string]domain.Tool) []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Subset is a live view of the named tools of a registry.
type Subset struct {
	reg   *Registry
	names []string
}

// Subset returns a view exposing only the named tools. Names that are not
// registered are skipped by Tools.
func (r *Registry) Subset(names ...string) *Subset {
	return &Subset{reg: r, names: slices.Clone(names)}
}

// Tools returns the registered tools among the subset's names.
func (s *Subset) Tools() map[string]domain.Tool {
	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()

	out := make(map[string]domain.Tool, len(s.names))
	for _, name := range s.names {
		if t, ok := s.reg.tools[name]; ok {
			out[name] = t
		}
	}
	return out
}
