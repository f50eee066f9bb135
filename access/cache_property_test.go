package access

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/srs-writer/agent-engine/toolregistry"
)

var allCallerTypes = []toolregistry.CallerType{
	toolregistry.CallerOrchestratorToolExecution,
	toolregistry.CallerOrchestratorKnowledgeQA,
	toolregistry.CallerSpecialistContent,
	toolregistry.CallerSpecialistProcess,
	toolregistry.CallerDocument,
}

// TestAccessSoundnessProperty checks that for every (caller, specialistID,
// tool) pair, GetAvailableTools contains tool iff ValidateAccess returns
// true.
func TestAccessSoundnessProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	layerGen := gen.OneConstOf(
		toolregistry.LayerAtomic, toolregistry.LayerDocument,
		toolregistry.LayerSpecialist, toolregistry.LayerInternal,
	)
	callerGen := gen.OneConstOf(
		toolregistry.CallerOrchestratorToolExecution,
		toolregistry.CallerOrchestratorKnowledgeQA,
		toolregistry.CallerSpecialistContent,
		toolregistry.CallerSpecialistProcess,
		toolregistry.CallerDocument,
	)

	properties.Property("getAvailableTools agrees with validateAccess for every tool", prop.ForAll(
		func(layer toolregistry.Layer, caller toolregistry.CallerType) bool {
			r := toolregistry.NewRegistry()
			name := toolregistry.Ident(fmt.Sprintf("tool-%s", layer))
			_ = r.RegisterTool(toolregistry.ToolDefinition{Name: name, Layer: layer}, nil)
			c := NewController(r, fixedSpecialists{}, nil)

			def, _ := r.GetToolDefinition(name)
			want := c.ValidateAccess(caller, "", def)

			got := false
			for _, d := range c.GetAvailableTools(caller, "") {
				if d.Name == name {
					got = true
				}
			}
			return got == want
		},
		layerGen, callerGen,
	))

	properties.TestingRun(t)
}

// TestCacheCoherenceProperty checks that after any RegisterTool or
// UnregisterTool returns, the next Get for every key reflects the new
// registry contents.
func TestCacheCoherenceProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	nameGen := gen.Identifier()

	properties.Property("cache reflects registry immediately after any mutation", prop.ForAll(
		func(toolName string) bool {
			r := toolregistry.NewRegistry()
			c := NewController(r, fixedSpecialists{}, nil)
			cache := NewMemoryCache(r, c, nil)

			keys := make([]CacheKey, len(allCallerTypes))
			for i, ct := range allCallerTypes {
				keys[i] = CacheKey{Caller: ct}
				cache.Get(keys[i]) // warm the cache
			}

			_ = r.RegisterTool(toolregistry.ToolDefinition{Name: toolregistry.Ident(toolName), Layer: toolregistry.LayerAtomic}, nil)
			def, _ := r.GetToolDefinition(toolregistry.Ident(toolName))

			// Every warmed key must now show the tool exactly when the
			// controller grants that caller access to it.
			for _, k := range keys {
				entry, _ := cache.Get(k)
				found := false
				for _, d := range entry.Definitions {
					if string(d.Name) == toolName {
						found = true
					}
				}
				if found != c.ValidateAccess(k.Caller, k.SpecialistID, def) {
					return false
				}
			}
			return true
		},
		nameGen,
	))

	properties.TestingRun(t)
}
