package specialist

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/toolregistry"
)

type scriptedChatAdapter struct {
	responses []string
	calls     int
}

func (a *scriptedChatAdapter) SendRequest(ctx context.Context, req external.ChatRequest) (external.ChatStream, error) {
	resp := a.responses[a.calls]
	if a.calls < len(a.responses)-1 {
		a.calls++
	}
	ch := make(chan string, 1)
	ch <- resp
	close(ch)
	errc := make(chan error, 1)
	errc <- nil
	return external.ChatStream{Fragments: ch, Err: errc}, nil
}

type stubAssembler struct{}

func (stubAssembler) AssembleSpecialistPrompt(ctx context.Context, t external.SpecialistType, c external.SpecialistContext) (string, error) {
	return "prompt for " + t.Name, nil
}

func TestRunnerTaskCompleteWithoutFileEditing(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "taskComplete", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"content": "done", "contextForNext": map[string]any{"projectState": map[string]any{"requires_file_editing": false}}}, nil
	}))
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{`{"tool_calls":[{"name":"taskComplete","args":{}}]}`}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	output, interaction, err := runner.Execute(context.Background(), "requirement_analyst", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.True(t, output.Success)
	assert.False(t, output.RequiresFileEditing)
	assert.Equal(t, "done", output.Content)
}

func TestRunnerTaskCompleteInfersFileEditingForDecisionOnly(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "writeFile", Layer: toolregistry.LayerDocument}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	}))
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "taskComplete", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"content": "wrote section"}, nil
	}))
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{
		`{"tool_calls":[{"name":"writeFile","args":{"path":"fr.yaml"}}]}`,
		`{"tool_calls":[{"name":"taskComplete","args":{}}]}`,
	}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	output, interaction, err := runner.Execute(context.Background(), "fr_writer", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.True(t, output.RequiresFileEditing, "decision-only specialist used a file-writing tool, so edit instructions are required")
}

func TestRunnerAskQuestionSuspends(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "askQuestion", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"needsChatInteraction": true, "question": "which modules?"}, nil
	}))
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{`{"tool_calls":[{"name":"askQuestion","args":{"question":"which modules?"}}]}`}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	output, interaction, err := runner.Execute(context.Background(), "fr_writer", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, output)
	require.NotNil(t, interaction)
	assert.True(t, interaction.NeedsChatInteraction)
	assert.Equal(t, "which modules?", interaction.Question)
	assert.NotNil(t, interaction.ResumeContext)
}

// capturingAssembler records the last context it assembled a prompt from,
// so tests can assert exactly what a resumed invocation feeds the LLM.
type capturingAssembler struct {
	lastContext external.SpecialistContext
}

func (a *capturingAssembler) AssembleSpecialistPrompt(ctx context.Context, t external.SpecialistType, c external.SpecialistContext) (string, error) {
	a.lastContext = c
	return "prompt for " + t.Name, nil
}

func TestRunnerResumeRestoresSuspendedIterationState(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "taskComplete", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"content": "wrote the auth and billing sections"}, nil
	}))
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{`{"tool_calls":[{"name":"taskComplete","args":{}}]}`}}
	prompts := &capturingAssembler{}
	runner := New(registry, ctrl, cache, chat, prompts, nil)

	// fr_writer wrote a file and asked a question mid-iteration; the frozen
	// snapshot carries that iteration's plan, its results, and the tools
	// used so far.
	resume := &ResumeState{
		Iteration:       1,
		InternalHistory: []string{"迭代 1: AI计划 outline the requirements"},
		CurrentPlan: &ParsedPlan{
			Content:   "write the draft then confirm scope",
			ToolCalls: []agent.ToolCallRequest{{Name: "writeFile", Args: map[string]any{"path": "draft.md"}}, {Name: "askQuestion", Args: map[string]any{"question": "which modules?"}}},
		},
		ToolResults:        []ToolResultEntry{{ToolName: "writeFile", Path: "draft.md", Payload: "ok"}},
		UserResponse:       "auth, billing",
		ContextForThisStep: "draft the functional requirements",
		ToolsUsed:          []string{"writeFile", "askQuestion"},
	}

	output, interaction, err := runner.Execute(context.Background(), "fr_writer", external.SpecialistCategoryContent, external.SpecialistContext{UserRequirements: "write the FRs"}, "test-model", resume)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.True(t, output.Success)
	assert.True(t, output.RequiresFileEditing,
		"the file write made before the suspension must still count toward edit-requirement inference")

	assert.Equal(t, "draft the functional requirements", prompts.lastContext.StructuredContext.CurrentStep)
	history := prompts.lastContext.StructuredContext.InternalHistory
	require.NotEmpty(t, history)
	assert.Contains(t, history[0], "outline the requirements")
	var sawPlan, sawResults bool
	for _, line := range history {
		if strings.Contains(line, "write the draft then confirm scope") {
			sawPlan = true
		}
		if strings.Contains(line, "writeFile") {
			sawResults = true
		}
	}
	assert.True(t, sawPlan, "the suspended iteration's plan must reach the resumed prompt")
	assert.True(t, sawResults, "the suspended iteration's tool results must reach the resumed prompt")
}

func TestRunnerSuspensionSnapshotsInFlightState(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "writeFile", Layer: toolregistry.LayerDocument}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	}))
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "askQuestion", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"needsChatInteraction": true, "question": "which modules?"}, nil
	}))
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{`{"content":"write then ask","tool_calls":[{"name":"writeFile","args":{"path":"fr.yaml"}},{"name":"askQuestion","args":{"question":"which modules?"}}]}`}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	specContext := external.SpecialistContext{
		UserRequirements:  "write the FRs",
		StructuredContext: external.StructuredContext{CurrentStep: "draft the functional requirements"},
	}
	output, interaction, err := runner.Execute(context.Background(), "fr_writer", external.SpecialistCategoryContent, specContext, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, output)
	require.NotNil(t, interaction)

	state := interaction.ResumeContext.SpecialistLoopState
	require.NotNil(t, state)
	assert.Contains(t, state.ToolsUsed, "writeFile")
	require.NotNil(t, state.CurrentPlan)
	assert.Equal(t, "write then ask", state.CurrentPlan.Content)
	require.Len(t, state.ToolResults, 1)
	assert.Equal(t, "writeFile", state.ToolResults[0].ToolName)
	assert.Equal(t, "fr.yaml", state.ToolResults[0].Path)
	assert.Equal(t, "draft the functional requirements", state.ContextForThisStep)
}

func TestRunnerMaxInternalIterationsOption(t *testing.T) {
	registry := toolregistry.NewRegistry()
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{"no json here, just prose"}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil, WithMaxInternalIterations(2))

	output, interaction, err := runner.Execute(context.Background(), "requirement_analyst", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.False(t, output.Success)
	assert.Equal(t, 2, output.Meta.Iterations)
}

func TestRunnerExceedsMaxIterations(t *testing.T) {
	registry := toolregistry.NewRegistry()
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{"no json here, just prose that keeps repeating"}}
	runner := New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	output, interaction, err := runner.Execute(context.Background(), "requirement_analyst", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.False(t, output.Success)
}
