package access

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// CacheKey identifies one cached tool-visibility view.
type CacheKey struct {
	Caller       toolregistry.CallerType
	SpecialistID string
}

// CacheEntry is what a Cache hands back for a CacheKey.
type CacheEntry struct {
	Definitions []toolregistry.ToolDefinition
	// SchemaJSON is the precomputed JSON-schema string for the tool set,
	// ready to splice into an LLM tool-descriptor payload.
	SchemaJSON string
}

// Cache is the per-caller memo fronting the Access Controller. Cache
// coherence: after any registry mutation returns, the next Get for every
// key must reflect the new registry contents, so implementations invalidate
// wholesale rather than partially.
type Cache interface {
	Get(key CacheKey) (CacheEntry, bool)
	Invalidate()
}

// MemoryCache is the default in-process Cache. It has no expiry at all: it
// is wholly event-driven, invalidated in one atomic sweep whenever the
// registry's OnCacheInvalidation channel fires. There is never a partial
// invalidation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]CacheEntry
	logged  map[CacheKey]bool

	registry   *toolregistry.Registry
	controller *Controller
	logger     telemetry.Logger
}

// NewMemoryCache builds a MemoryCache wired to registry's invalidation
// channel. It subscribes immediately; construct it once per process.
func NewMemoryCache(registry *toolregistry.Registry, controller *Controller, logger telemetry.Logger) *MemoryCache {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	c := &MemoryCache{
		entries:    make(map[CacheKey]CacheEntry),
		logged:     make(map[CacheKey]bool),
		registry:   registry,
		controller: controller,
		logger:     logger,
	}
	registry.OnCacheInvalidation(c.Invalidate)
	return c
}

// Get returns the cached visibility view for key, computing and storing it
// on first access. First access for a key logs once; subsequent hits are
// silent.
func (c *MemoryCache) Get(key CacheKey) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	defs := c.controller.GetAvailableTools(key.Caller, key.SpecialistID)
	schemaJSON := encodeSchemas(defs)
	entry = CacheEntry{Definitions: defs, SchemaJSON: schemaJSON}

	c.mu.Lock()
	c.entries[key] = entry
	firstAccess := !c.logged[key]
	c.logged[key] = true
	c.mu.Unlock()

	if firstAccess {
		c.logger.Info(context.Background(), "access cache populated", "caller", string(key.Caller), "specialist", key.SpecialistID, "tools", len(defs))
	}
	return entry, true
}

// Invalidate clears every cached entry atomically on any
// registration/unregistration event.
func (c *MemoryCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[CacheKey]CacheEntry)
	c.mu.Unlock()
}

// Len reports the number of currently cached keys (test/debug helper).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func encodeSchemas(defs []toolregistry.ToolDefinition) string {
	type toolDescriptor struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	}
	descriptors := make([]toolDescriptor, 0, len(defs))
	for _, d := range defs {
		descriptors = append(descriptors, toolDescriptor{
			Name:        string(d.Name),
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	raw, err := json.Marshal(descriptors)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
