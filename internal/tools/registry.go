package tools

import (
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/pkg/models"
)

// registered pairs a spec with its compiled argument schema.
type registered struct {
	spec   *Spec
	schema *jsonschema.Schema
}

// Registry holds tool specs with thread-safe registration and lookup.
// Argument schemas are compiled once at registration time.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds a tool. Registration fails on an empty name, a duplicate
// name, a missing handler, or an argument schema that does not compile.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || strings.TrimSpace(spec.Name) == "" {
		return models.Errorf(models.ErrValidation, "tool name is required")
	}
	if spec.Handler == nil {
		return models.Errorf(models.ErrValidation, "tool %s has no handler", spec.Name)
	}

	var schema *jsonschema.Schema
	if len(spec.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(spec.Name+".json", strings.NewReader(string(spec.Parameters))); err != nil {
			return models.Errorf(models.ErrValidation, "tool %s: invalid parameter schema: %v", spec.Name, err)
		}
		var err error
		schema, err = compiler.Compile(spec.Name + ".json")
		if err != nil {
			return models.Errorf(models.ErrValidation, "tool %s: parameter schema does not compile: %v", spec.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return models.Errorf(models.ErrValidation, "tool %s is already registered", spec.Name)
	}
	r.tools[spec.Name] = &registered{spec: spec, schema: schema}
	return nil
}

// Get returns a tool spec by name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.spec, true
}

// Names returns all registered tool names, sorted.
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

// Defs returns tool definitions for LLM providers, filtered to tools the
// user may call. A nil user sees only permissionless tools.
func (r *Registry) Defs(user *models.User) []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, reg := range r.tools {
		if !allowed(user, reg.spec.Permissions) {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        reg.spec.Name,
			Description: reg.spec.Description,
			Parameters:  reg.spec.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// lookup returns the full registration, including the compiled schema.
func (r *Registry) lookup(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// allowed reports whether user holds every permission in perms.
func allowed(user *models.User, perms []string) bool {
	for _, p := range perms {
		if user == nil || !user.HasPermission(p) {
			return false
		}
	}
	return true
}
