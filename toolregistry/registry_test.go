package toolregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterTool(ToolDefinition{
		Name:  "listAllFiles",
		Layer: LayerAtomic,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"structure": map[string]any{"totalCount": 12}}, nil
	})
	require.NoError(t, err)

	require.True(t, r.HasTool("listAllFiles"))

	_, err = r.ExecuteTool(context.Background(), "listAllFiles", map[string]any{})
	assert.Error(t, err, "missing required field should fail schema validation")

	out, err := r.ExecuteTool(context.Background(), "listAllFiles", map[string]any{"path": "."})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.EqualValues(t, 1, r.Usage("listAllFiles"))
}

func TestUnregisterFiresInvalidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(ToolDefinition{Name: "askQuestion", Layer: LayerInternal}, nil))

	calls := 0
	r.OnCacheInvalidation(func() { calls++ })

	require.NoError(t, r.RegisterTool(ToolDefinition{Name: "writeFile", Layer: LayerDocument}, nil))
	assert.Equal(t, 1, calls)

	ok := r.UnregisterTool("writeFile")
	assert.True(t, ok)
	assert.Equal(t, 2, calls)

	ok = r.UnregisterTool("writeFile")
	assert.False(t, ok, "unregistering twice should report not-found")
	assert.Equal(t, 2, calls, "invalidation must not fire when nothing changed")
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.ExecuteTool(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(ToolDefinition{Name: "a", Layer: LayerAtomic, Category: "fs"}, nil))
	require.NoError(t, r.RegisterTool(ToolDefinition{Name: "b", Layer: LayerDocument, Category: "fs", Deprecated: true}, nil))

	stats := r.GetStats()
	assert.Equal(t, 2, stats.TotalTools)
	assert.Equal(t, 1, stats.ByLayer[LayerAtomic])
	assert.Equal(t, 2, stats.ByCategory["fs"])
	assert.Equal(t, 1, stats.Deprecated)
}

func TestRegisterDiscoveredToolFiltersByKeyword(t *testing.T) {
	r := NewRegistry(WithExcludeKeywords([]string{"deprecated", "internal-only"}))

	registered, err := r.RegisterDiscoveredTool(ToolDefinition{Name: "legacyExport", Description: "an internal-only export tool"}, nil)
	require.NoError(t, err)
	assert.False(t, registered)
	assert.False(t, r.HasTool("legacyExport"))

	registered, err = r.RegisterDiscoveredTool(ToolDefinition{Name: "fetchDocument", Description: "fetches a document by id"}, nil)
	require.NoError(t, err)
	assert.True(t, registered)
	assert.True(t, r.HasTool("fetchDocument"))
}
