package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/conductor/pkg/models"
)

// ToolRunner executes a tool with validated parameters. Progress callbacks
// are fire-and-forget; the executor guarantees they never block the runner.
type ToolRunner interface {
	Run(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error)
}

// RunOutput is what a tool runner produces on success.
type RunOutput struct {
	Output           string            `json:"output"`
	Artifacts        []models.Artifact `json:"artifacts,omitempty"`
	PreviewSnapshots []string          `json:"preview_snapshots,omitempty"`
}

// ToolRunnerFunc adapts a function to the ToolRunner interface.
type ToolRunnerFunc func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error)

func (f ToolRunnerFunc) Run(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
	return f(ctx, params, progress)
}

// ToolDescriptor declares a tool: its schema, timeout, and classification.
type ToolDescriptor struct {
	Name        string
	Description string

	// Parameters is the JSON-schema for the tool's input.
	Parameters json.RawMessage

	// Timeout bounds a single execution. Zero means the executor default.
	Timeout time.Duration

	// RequiresConfirmation marks tools needing user approval upstream.
	RequiresConfirmation bool

	// SearchClass marks external information-retrieval tools subject to the
	// per-turn search quota.
	SearchClass bool

	Runner ToolRunner
}

// Registry maintains name→descriptor lookup with compiled parameter schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDescriptor
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDescriptor),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a descriptor, compiling its parameter schema. A descriptor
// with the same name replaces the previous one.
func (r *Registry) Register(desc *ToolDescriptor) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("tool descriptor requires a name")
	}
	params := desc.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object"}`)
	}
	sch, err := jsonschema.CompileString("tool://"+desc.Name, string(params))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = desc
	r.schemas[desc.Name] = sch
	return nil
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (*ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Schema returns the compiled parameter schema for a tool.
func (r *Registry) Schema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Functions returns the model-facing function list, filtered by the enabled
// name set. A nil set enables every registered tool. Output is sorted by
// name for deterministic request payloads.
func (r *Registry) Functions(enabled map[string]bool) []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolSchema, 0, len(r.tools))
	for name, d := range r.tools {
		if enabled != nil && !enabled[name] {
			continue
		}
		params := d.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, ToolSchema{
			Type: "function",
			Function: FunctionSchema{
				Name:        name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}

// DenySearchQuota is the user-opaque reason inserted as a tool-role message
// when the per-turn search quota is exhausted.
const DenySearchQuota = "Search already completed for this task. Synthesize the answer from the existing search results instead of searching again."

// Gate enforces per-turn tool quotas. One Gate serves one turn.
type Gate struct {
	registry    *Registry
	searchQuota int
	searchUsed  int
}

// NewGate creates a per-turn admission gate. searchQuota <= 0 means the
// default quota of one search-class call per turn.
func NewGate(registry *Registry, searchQuota int) *Gate {
	if searchQuota <= 0 {
		searchQuota = 1
	}
	return &Gate{registry: registry, searchQuota: searchQuota}
}

// Admit decides whether a tool call may proceed. A denial reason is suitable
// for insertion as a tool-role message so the model incorporates it.
func (g *Gate) Admit(name string) (bool, string) {
	desc, ok := g.registry.Get(name)
	if !ok {
		return false, "Unknown tool: " + name
	}
	if desc.SearchClass {
		if g.searchUsed >= g.searchQuota {
			return false, DenySearchQuota
		}
		g.searchUsed++
	}
	return true, ""
}
