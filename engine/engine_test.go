package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/config"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/specialist"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// scriptedPlanner returns one queued AIPlan per call, repeating the last
// entry once exhausted.
type scriptedPlanner struct {
	plans []agent.AIPlan
	calls int
}

func (p *scriptedPlanner) Plan(ctx context.Context, input external.PlanInput) (agent.AIPlan, error) {
	i := p.calls
	if i >= len(p.plans) {
		i = len(p.plans) - 1
	}
	p.calls++
	return p.plans[i], nil
}

type stubPlanExecutor struct {
	result external.PlanExecResult
}

func (s *stubPlanExecutor) Execute(ctx context.Context, plan agent.AIPlan, session *external.SessionContext) (external.PlanExecResult, error) {
	return s.result, nil
}

func (s *stubPlanExecutor) ContinueExecution(ctx context.Context, plan agent.AIPlan, currentStep int, stepResults map[int]*agent.SpecialistOutput, session *external.SessionContext, model string, userInput string, specialistResult *agent.SpecialistOutput) (external.PlanExecResult, error) {
	return s.result, nil
}

type stubSession struct{}

func (stubSession) GetCurrentSession(ctx context.Context) (*external.SessionContext, error) {
	return &external.SessionContext{ProjectName: "demo"}, nil
}
func (stubSession) UpdateSessionWithLog(ctx context.Context, entry external.SessionLogEntry) error {
	return nil
}
func (stubSession) Subscribe(observer external.SessionObserver) (unsubscribe func()) {
	return func() {}
}

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

func newTestEngine(t *testing.T, planner external.Planner, registry *toolregistry.Registry, chat *scriptedChatAdapter) *Engine {
	t.Helper()
	if registry == nil {
		registry = toolregistry.NewRegistry()
	}
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	if chat == nil {
		chat = &scriptedChatAdapter{responses: []string{`{"direct_response":"unused"}`}}
	}
	runner := specialist.New(registry, ctrl, cache, chat, stubAssembler{}, nil)
	return New(registry, ctrl, cache, runner, planner, &stubPlanExecutor{}, stubSession{}, WithModel("test-model"))
}

func TestPureQAEndsWithResultStep(t *testing.T) {
	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{Thought: "this is a definitional question", ResponseMode: agent.ModeKnowledgeQA, DirectResponse: "An NFR is a non-functional requirement."},
	}}
	e := newTestEngine(t, planner, nil, nil)

	e.ExecuteTask(context.Background(), "What is an NFR?")

	assert.Equal(t, agent.StageCompleted, e.GetState().Stage)
	history := e.GetState().ExecutionHistory
	require.GreaterOrEqual(t, len(history), 2)
	last := history[len(history)-1]
	assert.Equal(t, agent.StepResult, last.Kind)
	assert.True(t, *last.Success)

	var sawThought bool
	for _, s := range history {
		if s.Kind == agent.StepThought {
			sawThought = true
		}
	}
	assert.True(t, sawThought)
}

func TestSingleToolAutonomousCompletes(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "listAllFiles", Layer: toolregistry.LayerAtomic}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"structure": map[string]any{"totalCount": 12}}, nil
	}))

	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{Thought: "list files", ResponseMode: agent.ModeToolExecution, ToolCalls: []agent.ToolCallRequest{{Name: "listAllFiles", Args: map[string]any{}}}},
		{Thought: "summarize", ResponseMode: agent.ModeKnowledgeQA, DirectResponse: "There are 12 files."},
	}}
	e := newTestEngine(t, planner, registry, nil)

	e.ExecuteTask(context.Background(), "List files in the project")

	assert.Equal(t, agent.StageCompleted, e.GetState().Stage)
	var sawToolCall bool
	for _, s := range e.GetState().ExecutionHistory {
		if s.Kind == agent.StepToolCall && s.ToolName == "listAllFiles" {
			sawToolCall = true
			assert.True(t, *s.Success)
		}
	}
	assert.True(t, sawToolCall)
}

func TestConfirmationGateSuspendsAndResumes(t *testing.T) {
	registry := toolregistry.NewRegistry()
	var wrote bool
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "writeFile", Layer: toolregistry.LayerDocument}, func(ctx context.Context, args map[string]any) (any, error) {
		wrote = true
		return map[string]any{"ok": true}, nil
	}))

	bigContent := make([]byte, 8000)
	for i := range bigContent {
		bigContent[i] = 'x'
	}
	writeCall := agent.ToolCallRequest{Name: "writeFile", Args: map[string]any{"path": "config.yaml", "content": string(bigContent)}}

	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{Thought: "write config", ResponseMode: agent.ModeToolExecution, ToolCalls: []agent.ToolCallRequest{writeCall}},
		{Thought: "done", ResponseMode: agent.ModeKnowledgeQA, DirectResponse: "Wrote the config."},
	}}
	e := newTestEngine(t, planner, registry, nil)

	e.ExecuteTask(context.Background(), "update config.yaml")

	require.True(t, e.IsAwaitingUser(), "large write to an important path must require confirmation")
	assert.False(t, wrote)

	e.HandleUserResponse(context.Background(), "yes")

	assert.Equal(t, agent.StageCompleted, e.GetState().Stage)
}

func TestSpecialistAskQuestionSuspendsEngine(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{
		Name: "fr_writer", Layer: toolregistry.LayerSpecialist, Category: "content",
		InteractionType: toolregistry.InteractionAutonomous, RiskLevel: toolregistry.RiskLow,
	}, nil))
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "askQuestion", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"needsChatInteraction": true, "question": "which modules should we cover?"}, nil
	}))

	chat := &scriptedChatAdapter{responses: []string{`{"tool_calls":[{"name":"askQuestion","args":{"question":"which modules should we cover?"}}]}`}}

	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{Thought: "delegate to fr_writer", ResponseMode: agent.ModeToolExecution, ToolCalls: []agent.ToolCallRequest{{Name: "fr_writer", Args: map[string]any{}}}},
	}}
	e := newTestEngine(t, planner, registry, chat)

	e.ExecuteTask(context.Background(), "write the functional requirements")

	require.True(t, e.IsAwaitingUser())
	require.NotNil(t, e.GetState().PendingInteraction)
	assert.Equal(t, "which modules should we cover?", e.GetState().PendingInteraction.Message)
}

func TestSpecialistResumeAfterReplyCompletes(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{
		Name: "fr_writer", Layer: toolregistry.LayerSpecialist, Category: "content",
		InteractionType: toolregistry.InteractionAutonomous, RiskLevel: toolregistry.RiskLow,
	}, nil))
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "writeFile", Layer: toolregistry.LayerDocument}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	}))
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "askQuestion", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"needsChatInteraction": true, "question": "which modules should we cover?"}, nil
	}))
	// No projectState in the result: the edit-requirement decision falls to
	// inference over the tools used across the whole run, including the
	// writeFile made before the suspension.
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "taskComplete", Layer: toolregistry.LayerSpecialist}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"content": "covered auth and billing"}, nil
	}))

	chat := &scriptedChatAdapter{responses: []string{
		`{"tool_calls":[{"name":"writeFile","args":{"path":"fr.yaml"}},{"name":"askQuestion","args":{"question":"which modules should we cover?"}}]}`,
		`{"tool_calls":[{"name":"taskComplete","args":{}}]}`,
	}}

	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{Thought: "delegate to fr_writer", ResponseMode: agent.ModeToolExecution, ToolCalls: []agent.ToolCallRequest{{Name: "fr_writer", Args: map[string]any{}}}},
	}}
	e := newTestEngine(t, planner, registry, chat)

	e.ExecuteTask(context.Background(), "write the functional requirements")
	require.True(t, e.IsAwaitingUser())
	rc := e.GetState().ResumeContext
	require.NotNil(t, rc)
	require.NotNil(t, rc.SpecialistLoopState)
	assert.Contains(t, rc.SpecialistLoopState.ToolsUsed, "writeFile",
		"the frozen loop state must remember tools used before the suspension")
	require.Len(t, rc.SpecialistLoopState.ToolResults, 1)
	assert.Equal(t, "writeFile", rc.SpecialistLoopState.ToolResults[0].ToolName)

	e.HandleUserResponse(context.Background(), "auth, billing")

	assert.Equal(t, agent.StageCompleted, e.GetState().Stage)
	assert.Nil(t, e.GetState().PendingInteraction)
	history := e.GetState().ExecutionHistory
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, agent.StepResult, last.Kind)
	assert.Equal(t, "covered auth and billing", last.Text)
}

func TestInfiniteLoopForcesCompletion(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "listAllFiles", Layer: toolregistry.LayerAtomic}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"n": 1}, nil
	}))

	plans := make([]agent.AIPlan, 0)
	for i := 0; i < 6; i++ {
		plans = append(plans, agent.AIPlan{
			ResponseMode: agent.ModeToolExecution,
			ToolCalls:    []agent.ToolCallRequest{{Name: "listAllFiles", Args: map[string]any{"seed": i}}},
		})
	}
	planner := &scriptedPlanner{plans: plans}
	e := newTestEngine(t, planner, registry, nil)

	e.ExecuteTask(context.Background(), "list files repeatedly")

	assert.Equal(t, agent.StageCompleted, e.GetState().Stage)
}

func TestWithConfigWiresSpecialistIterationBound(t *testing.T) {
	registry := toolregistry.NewRegistry()
	ctrl := access.NewController(registry, nil, nil)
	cache := access.NewMemoryCache(registry, ctrl, nil)
	chat := &scriptedChatAdapter{responses: []string{"no json here, just prose"}}
	runner := specialist.New(registry, ctrl, cache, chat, stubAssembler{}, nil)

	cfg := config.Default()
	cfg.Iterations.MaxInternalIterations = 2
	planner := &scriptedPlanner{plans: []agent.AIPlan{{ResponseMode: agent.ModeKnowledgeQA, DirectResponse: "done"}}}
	New(registry, ctrl, cache, runner, planner, &stubPlanExecutor{}, stubSession{}, WithConfig(cfg))

	output, interaction, err := runner.Execute(context.Background(), "requirement_analyst", external.SpecialistCategoryContent, external.SpecialistContext{}, "test-model", nil)
	require.NoError(t, err)
	require.Nil(t, interaction)
	require.NotNil(t, output)
	assert.False(t, output.Success)
	assert.Equal(t, 2, output.Meta.Iterations, "the configured inner-loop bound must reach the runner")
}

func TestExecuteTaskNoopWhileAwaitingUser(t *testing.T) {
	registry := toolregistry.NewRegistry()
	require.NoError(t, registry.RegisterTool(toolregistry.ToolDefinition{Name: "askThing", Layer: toolregistry.LayerAtomic}, func(ctx context.Context, args map[string]any) (any, error) {
		return "n/a", nil
	}))

	planner := &scriptedPlanner{plans: []agent.AIPlan{
		{ResponseMode: agent.ModeToolExecution, ToolCalls: []agent.ToolCallRequest{{Name: "askThing", Args: map[string]any{"question": "pick one"}}}},
	}}
	e := newTestEngine(t, planner, registry, nil)
	e.ExecuteTask(context.Background(), "do the thing")
	require.True(t, e.IsAwaitingUser())

	planCallsBefore := planner.calls
	e.ExecuteTask(context.Background(), "a second task")
	assert.Equal(t, planCallsBefore, planner.calls, "executeTask must be a no-op while awaiting a user reply")
}
