// Package toolregistry owns tool definitions and implementations for the
// lifetime of the process. It never itself decides who can see a tool
// (that is the Access Controller's job, package access), but it is the
// single source of truth the controller and its cache read from, and it is
// the thing whose mutations the cache must react to.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolerrors"
)

// Ident is the strong type for a fully qualified tool name. Process-wide
// unique.
type Ident string

// Layer is the closed tag for ToolDefinition.Layer.
type Layer string

const (
	LayerAtomic     Layer = "atomic"
	LayerDocument   Layer = "document"
	LayerSpecialist Layer = "specialist"
	LayerInternal   Layer = "internal"
)

// RiskLevel is the closed tag for ToolDefinition.RiskLevel.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// InteractionType is the closed tag for ToolDefinition.InteractionType.
type InteractionType string

const (
	InteractionAutonomous   InteractionType = "autonomous"
	InteractionConfirmation InteractionType = "confirmation"
	InteractionInteractive  InteractionType = "interactive"
)

// CallerType is the closed enum of tool callers.
type CallerType string

const (
	CallerOrchestratorToolExecution CallerType = "ORCHESTRATOR_TOOL_EXECUTION"
	CallerOrchestratorKnowledgeQA   CallerType = "ORCHESTRATOR_KNOWLEDGE_QA"
	CallerSpecialistContent         CallerType = "SPECIALIST_CONTENT"
	CallerSpecialistProcess         CallerType = "SPECIALIST_PROCESS"
	CallerDocument                  CallerType = "DOCUMENT"
)

// AccessEntry is one entry of a ToolDefinition's AccessibleBy list: either a
// CallerType value or a specialist identifier string.
type AccessEntry string

// ToolDefinition describes one registered tool.
type ToolDefinition struct {
	Name        Ident
	Description string
	// Parameters is the JSON-schema-shaped parameter descriptor, compiled
	// lazily by Registry.RegisterTool to validate tool-call args.
	Parameters map[string]any

	Layer                Layer
	Category             string
	RiskLevel            RiskLevel
	InteractionType      InteractionType
	RequiresConfirmation bool
	AccessibleBy         []AccessEntry

	Experimental bool
	Deprecated   bool
}

// Implementation is the callable backing a ToolDefinition.
type Implementation func(ctx context.Context, args map[string]any) (any, error)

// Stats summarizes the registry's contents.
type Stats struct {
	TotalTools   int
	ByLayer      map[Layer]int
	ByCategory   map[string]int
	Experimental int
	Deprecated   int
}

type toolEntry struct {
	def    ToolDefinition
	impl   Implementation
	schema *jsonschema.Schema
	usage  int64
}

// Registry is the process-wide tool registry.
type Registry struct {
	mu      sync.RWMutex
	tools   map[Ident]*toolEntry
	onInval []func()

	logger          telemetry.Logger
	excludeKeywords []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithExcludeKeywords configures the substring blacklist
// RegisterDiscoveredTool applies to externally-discovered tools (config key
// `srs-writer.mcp.excludeKeywords`).
func WithExcludeKeywords(keywords []string) Option {
	return func(r *Registry) { r.excludeKeywords = keywords }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[Ident]*toolEntry),
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterDiscoveredTool registers a tool sourced from external discovery
// (e.g. an MCP tool host enumerating its available tools), first filtering
// it against the configured excludeKeywords substring blacklist. Returns
// false without registering if def's name or description contains any
// configured keyword.
func (r *Registry) RegisterDiscoveredTool(def ToolDefinition, impl Implementation) (bool, error) {
	r.mu.RLock()
	keywords := r.excludeKeywords
	r.mu.RUnlock()

	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if containsFold(string(def.Name), kw) || containsFold(def.Description, kw) {
			r.logger.Info(context.Background(), "discovered tool excluded by keyword filter", "tool", string(def.Name), "keyword", kw)
			return false, nil
		}
	}
	if err := r.RegisterTool(def, impl); err != nil {
		return false, err
	}
	return true, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// OnCacheInvalidation registers a callback fired synchronously after every
// registration/unregistration, once the registry's own maps have already
// been mutated. Readers must never observe a half-updated registry plus a
// stale cache.
func (r *Registry) OnCacheInvalidation(cb func()) {
	r.mu.Lock()
	r.onInval = append(r.onInval, cb)
	r.mu.Unlock()
}

func (r *Registry) fireInvalidation() {
	r.mu.RLock()
	cbs := make([]func(), len(r.onInval))
	copy(cbs, r.onInval)
	r.mu.RUnlock()
	for _, cb := range cbs {
		cb()
	}
}

// RegisterTool adds or replaces a tool definition and its optional
// implementation, then fires cache invalidation. If Parameters is a
// non-empty JSON Schema object, it is compiled up front so a malformed
// schema fails at registration time rather than at call time.
func (r *Registry) RegisterTool(def ToolDefinition, impl Implementation) error {
	var compiled *jsonschema.Schema
	if len(def.Parameters) > 0 {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return fmt.Errorf("toolregistry: marshal schema for %s: %w", def.Name, err)
		}
		sch, err := compileSchema(string(def.Name), raw)
		if err != nil {
			return fmt.Errorf("toolregistry: invalid parameter schema for %s: %w", def.Name, err)
		}
		compiled = sch
	}

	r.mu.Lock()
	r.tools[def.Name] = &toolEntry{def: def, impl: impl, schema: compiled}
	r.mu.Unlock()

	r.logger.Info(context.Background(), "tool registered", "tool", string(def.Name), "layer", string(def.Layer))
	r.fireInvalidation()
	return nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// UnregisterTool removes a tool by name, firing cache invalidation if it
// existed. Returns false if the tool was not registered.
func (r *Registry) UnregisterTool(name Ident) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	if ok {
		delete(r.tools, name)
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info(context.Background(), "tool unregistered", "tool", string(name))
		r.fireInvalidation()
	}
	return ok
}

// HasTool reports whether name is currently registered.
func (r *Registry) HasTool(name Ident) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// GetToolDefinition returns the definition for name, if registered.
func (r *Registry) GetToolDefinition(name Ident) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return e.def, true
}

// GetAllDefinitions returns a stable-ordered snapshot of every registered
// tool definition.
func (r *Registry) GetAllDefinitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetToolsByLayer returns every registered tool in the given layer.
func (r *Registry) GetToolsByLayer(layer Layer) []ToolDefinition {
	all := r.GetAllDefinitions()
	out := make([]ToolDefinition, 0, len(all))
	for _, d := range all {
		if d.Layer == layer {
			out = append(out, d)
		}
	}
	return out
}

// GetToolsByCategory returns every registered tool in the given category.
func (r *Registry) GetToolsByCategory(category string) []ToolDefinition {
	all := r.GetAllDefinitions()
	out := make([]ToolDefinition, 0, len(all))
	for _, d := range all {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// ExecuteTool validates args against the tool's parameter schema (when one
// was supplied), runs the implementation, counts usage, and re-throws
// implementation errors after logging.
func (r *Registry) ExecuteTool(ctx context.Context, name Ident, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, toolerrors.New(fmt.Sprintf("tool not found: %s", name))
	}
	if e.schema != nil {
		if err := validateArgs(e.schema, args); err != nil {
			return nil, toolerrors.NewWithCause(fmt.Sprintf("invalid arguments for %s", name), err)
		}
	}
	if e.impl == nil {
		return nil, toolerrors.New(fmt.Sprintf("tool %s has no implementation", name))
	}

	start := time.Now()
	result, err := e.impl(ctx, args)
	dur := time.Since(start)

	r.mu.Lock()
	e.usage++
	r.mu.Unlock()

	if err != nil {
		r.logger.Error(ctx, "tool execution failed", "tool", string(name), "duration", dur, "error", err.Error())
		return nil, err
	}
	return result, nil
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// jsonschema validates against decoded JSON values (map[string]any,
	// []any, float64, ...); round-trip through JSON to normalize Go-native
	// types (e.g. int) the way a caller's raw tool-call payload would arrive.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// GetStats summarizes the registry's contents.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{
		ByLayer:    make(map[Layer]int),
		ByCategory: make(map[string]int),
	}
	for _, e := range r.tools {
		stats.TotalTools++
		stats.ByLayer[e.def.Layer]++
		stats.ByCategory[e.def.Category]++
		if e.def.Experimental {
			stats.Experimental++
		}
		if e.def.Deprecated {
			stats.Deprecated++
		}
	}
	return stats
}

// GenerateToolInventoryText renders a prompt-ready inventory of every
// registered tool, feeding the Prompt Assembler's AVAILABLE_TOOLS /
// ALL_TOOL_GUIDES substitution slots.
func (r *Registry) GenerateToolInventoryText() string {
	defs := r.GetAllDefinitions()
	text := ""
	for _, d := range defs {
		tag := ""
		if d.Deprecated {
			tag = " [deprecated]"
		} else if d.Experimental {
			tag = " [experimental]"
		}
		text += fmt.Sprintf("- %s%s: %s\n", d.Name, tag, d.Description)
	}
	return text
}

// Usage returns the call count recorded for a tool, 0 if unknown.
func (r *Registry) Usage(name Ident) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return 0
	}
	return e.usage
}
