// Package specialist implements the Specialist Runner:
// the inner, bounded LLM⇄tool loop that parses noisy LLM JSON,
// enforces task-completion semantics, filters context fed back into
// its own next prompt, and yields a SpecialistOutput or a
// SpecialistInteractionResult.
//
// The loop is stateless across invocations: a resumed run receives its
// frozen state explicitly rather than reading it back from the Runner.
package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// MaxInternalIterations bounds the inner loop.
const MaxInternalIterations = 5

// Direct-execution specialists apply their own file edits and never
// need edit_instructions handed back to core regardless of which file
// tools they used.
var directExecutionSpecialists = map[string]bool{
	"project_initializer": true,
	"git_operator":        true,
}

// Decision-only specialists need edit_instructions iff they used a
// file-writing tool this run.
var decisionOnlySpecialists = map[string]bool{
	"fr_writer":       true,
	"nfr_writer":      true,
	"srs_writer":      true,
	"glossary_writer": true,
}

// Non-file specialists never need edit_instructions.
var nonFileSpecialists = map[string]bool{
	"requirement_analyst": true,
	"risk_reviewer":       true,
}

var fileWritingTools = map[string]bool{
	"writeFile":              true,
	"createFile":             true,
	"appendTextToFile":       true,
	"createDirectory":        true,
	"createNewProjectFolder": true,
	"renameFile":             true,
}

// callerTypeFor reports which CallerType a specialistID's tool fetch
// uses, derived from the caller-supplied category.
func callerTypeFor(category external.SpecialistCategory) toolregistry.CallerType {
	if category == external.SpecialistCategoryProcess {
		return toolregistry.CallerSpecialistProcess
	}
	return toolregistry.CallerSpecialistContent
}

// ResumeState supplies the frozen inner-loop snapshot a resumed
// invocation restarts from: the loop counters and history, the plan that
// was being executed when the suspension hit, the tool results gathered
// before the askQuestion call, the step context the prompt was assembled
// from, and the tool names used so far (so edit-requirement inference
// keeps its memory of file writes made before the suspension).
type ResumeState struct {
	Iteration          int
	InternalHistory    []string
	CurrentPlan        *ParsedPlan
	ToolResults        []ToolResultEntry
	UserResponse       string
	ContextForThisStep string
	ToolsUsed          []string
}

// Runner executes one specialist's bounded inner loop.
type Runner struct {
	registry      *toolregistry.Registry
	access        *access.Controller
	cache         access.Cache
	chat          external.ChatAdapter
	prompts       external.PromptAssembler
	logger        telemetry.Logger
	maxIterations int
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxInternalIterations overrides the inner-loop bound. Values below 1
// are ignored.
func WithMaxInternalIterations(n int) Option {
	return func(r *Runner) { r.SetMaxInternalIterations(n) }
}

// New builds a Runner wired to the given tool registry, access
// controller, chat adapter, and prompt assembler. cache fronts the
// controller; pass nil to fall back to calling the controller directly on
// every fetch.
func New(registry *toolregistry.Registry, accessCtl *access.Controller, cache access.Cache, chat external.ChatAdapter, prompts external.PromptAssembler, logger telemetry.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	r := &Runner{
		registry:      registry,
		access:        accessCtl,
		cache:         cache,
		chat:          chat,
		prompts:       prompts,
		logger:        logger,
		maxIterations: MaxInternalIterations,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMaxInternalIterations overrides the inner-loop bound after
// construction, used when a loaded configuration carries a different
// budget than the default. Values below 1 are ignored.
func (r *Runner) SetMaxInternalIterations(n int) {
	if n > 0 {
		r.maxIterations = n
	}
}

// Execute runs a specialist's inner loop to completion, suspension, or
// exhaustion.
func (r *Runner) Execute(ctx context.Context, specialistID string, category external.SpecialistCategory, specContext external.SpecialistContext, model string, resumeState *ResumeState) (*agent.SpecialistOutput, *agent.SpecialistInteractionResult, error) {
	start := time.Now()
	iteration := 0
	var internalHistory []string
	var toolsUsed []string
	userResponse := ""

	if resumeState != nil {
		iteration = resumeState.Iteration
		internalHistory = append([]string(nil), resumeState.InternalHistory...)
		toolsUsed = append([]string(nil), resumeState.ToolsUsed...)
		userResponse = resumeState.UserResponse
		if resumeState.ContextForThisStep != "" {
			specContext.StructuredContext.CurrentStep = resumeState.ContextForThisStep
		}
		// Fold the suspended iteration's in-flight progress into the
		// history the next prompt sees, exactly as the loop would have
		// after a synchronous reply.
		if resumeState.CurrentPlan != nil && resumeState.CurrentPlan.Content != "" {
			internalHistory = append(internalHistory, fmt.Sprintf("迭代 %d: AI计划 %s", iteration, resumeState.CurrentPlan.Content))
		}
		if kept := FilterResults(resumeState.ToolResults); len(kept) > 0 {
			internalHistory = append(internalHistory, summarizeIterationForHistory(iteration, kept))
		}
	}

	callerType := callerTypeFor(category)

	for iteration < r.maxIterations {
		iteration++

		promptText, err := r.assemblePrompt(ctx, specialistID, category, specContext, internalHistory, userResponse)
		if err != nil {
			return agent.NewFailedOutput(specialistID, err.Error(), meta(specialistID, iteration, start, toolsUsed)), nil, nil
		}

		tools := r.fetchTools(callerType, specialistID)

		stream, err := r.chat.SendRequest(ctx, external.ChatRequest{
			Messages: []external.ChatMessage{{Role: external.ChatRoleUser, Content: promptText}},
			Tools:    tools,
			ToolMode: external.ToolModeAuto,
		})
		if err != nil {
			return agent.NewFailedOutput(specialistID, err.Error(), meta(specialistID, iteration, start, toolsUsed)), nil, nil
		}

		text, err := stream.Drain(ctx)
		if err != nil {
			return agent.NewFailedOutput(specialistID, err.Error(), meta(specialistID, iteration, start, toolsUsed)), nil, nil
		}
		if text == "" {
			internalHistory = append(internalHistory, fmt.Sprintf("迭代 %d: empty LLM response, retrying", iteration))
			continue
		}

		plan := ParseLLMOutput(text)
		if len(plan.ToolCalls) == 0 && plan.DirectResponse == "" && plan.Content == "" {
			internalHistory = append(internalHistory, fmt.Sprintf("迭代 %d: format error, retrying", iteration))
			continue
		}
		if len(plan.ToolCalls) == 0 {
			// Non-empty content/direct-response with no tool calls is a
			// valid plan, but without a taskComplete sentinel it cannot
			// terminate the loop; record
			// and continue so the specialist can still call a tool next.
			internalHistory = append(internalHistory, fmt.Sprintf("迭代 %d: AI计划 %s", iteration, plan.Content))
			continue
		}

		var resultEntries []ToolResultEntry
		for _, call := range plan.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
			result, execErr := r.registry.ExecuteTool(ctx, toolregistry.Ident(call.Name), call.Args)

			if call.Name == "askQuestion" {
				if interaction, ok := askQuestionInteraction(result, execErr); ok {
					return nil, &agent.SpecialistInteractionResult{
						Success:              false,
						NeedsChatInteraction: true,
						Question:             interaction.question,
						ResumeContext: &agent.ResumeContext{
							OriginalUserInput: specContext.UserRequirements,
							SpecialistLoopState: &agent.SpecialistLoopState{
								SpecialistID:       specialistID,
								CurrentIteration:   iteration,
								MaxIterations:      r.maxIterations,
								ExecutionHistory:   internalHistory,
								StartTime:          start,
								CurrentPlan:        snapshotPlan(plan),
								ToolResults:        snapshotResults(resultEntries),
								ContextForThisStep: specContext.StructuredContext.CurrentStep,
								ToolsUsed:          append([]string(nil), toolsUsed...),
							},
							AskQuestionContext: &agent.AskQuestionContext{
								OriginalToolCall: call,
								Question:         interaction.question,
								RawToolResult:    result,
							},
						},
					}, nil
				}
			}

			if call.Name == "taskComplete" {
				if execErr != nil {
					return agent.NewFailedOutput(specialistID, execErr.Error(), meta(specialistID, iteration, start, toolsUsed)), nil, nil
				}
				output := r.handleTaskComplete(specialistID, result, meta(specialistID, iteration, start, toolsUsed))
				return output, nil, nil
			}

			entry := ToolResultEntry{ToolName: call.Name, Payload: fmt.Sprintf("%v", result)}
			if path, ok := call.Args["path"].(string); ok {
				entry.Path = path
			}
			resultEntries = append(resultEntries, entry)
		}

		kept := FilterResults(resultEntries)
		if plan.Content != "" {
			internalHistory = append(internalHistory, fmt.Sprintf("迭代 %d: AI计划 %s", iteration, plan.Content))
		}
		internalHistory = append(internalHistory, summarizeIterationForHistory(iteration, kept))
	}

	return agent.NewFailedOutput(specialistID, "exceeded max iterations", meta(specialistID, iteration, start, toolsUsed)), nil, nil
}

// snapshotPlan and snapshotResults freeze the suspended iteration's
// in-flight state into the agent-level shapes SpecialistLoopState carries;
// RestoreFromLoopState is their inverse.
func snapshotPlan(plan ParsedPlan) *agent.SpecialistPlanSnapshot {
	return &agent.SpecialistPlanSnapshot{
		Content:        plan.Content,
		DirectResponse: plan.DirectResponse,
		ToolCalls:      plan.ToolCalls,
	}
}

func snapshotResults(entries []ToolResultEntry) []agent.SpecialistToolResult {
	out := make([]agent.SpecialistToolResult, 0, len(entries))
	for _, e := range entries {
		out = append(out, agent.SpecialistToolResult{ToolName: e.ToolName, Path: e.Path, Payload: e.Payload})
	}
	return out
}

// RestoreFromLoopState rebuilds a ResumeState from a frozen
// SpecialistLoopState plus the user's reply, ready to hand back to
// Execute.
func RestoreFromLoopState(state *agent.SpecialistLoopState, userResponse string) *ResumeState {
	rs := &ResumeState{UserResponse: userResponse}
	if state == nil {
		return rs
	}
	rs.Iteration = state.CurrentIteration
	rs.InternalHistory = state.ExecutionHistory
	rs.ContextForThisStep = state.ContextForThisStep
	rs.ToolsUsed = state.ToolsUsed
	if state.CurrentPlan != nil {
		rs.CurrentPlan = &ParsedPlan{
			Content:        state.CurrentPlan.Content,
			DirectResponse: state.CurrentPlan.DirectResponse,
			ToolCalls:      state.CurrentPlan.ToolCalls,
		}
	}
	for _, tr := range state.ToolResults {
		rs.ToolResults = append(rs.ToolResults, ToolResultEntry{ToolName: tr.ToolName, Path: tr.Path, Payload: tr.Payload})
	}
	return rs
}

func meta(specialistID string, iteration int, start time.Time, toolsUsed []string) agent.SpecialistOutputMeta {
	return agent.SpecialistOutputMeta{
		Specialist:    specialistID,
		Iterations:    iteration,
		ExecutionTime: time.Since(start),
		Timestamp:     time.Now(),
		ToolsUsed:     toolsUsed,
	}
}

func (r *Runner) assemblePrompt(ctx context.Context, specialistID string, category external.SpecialistCategory, specContext external.SpecialistContext, internalHistory []string, userResponse string) (string, error) {
	specContext.StructuredContext.InternalHistory = internalHistory
	if userResponse != "" {
		specContext.UserRequirements = specContext.UserRequirements + "\n\nCURRENT_USER_RESPONSE: " + userResponse
	}
	return r.prompts.AssembleSpecialistPrompt(ctx, external.SpecialistType{Name: specialistID, Category: category}, specContext)
}

func (r *Runner) fetchTools(callerType toolregistry.CallerType, specialistID string) []external.ToolDescriptor {
	var defs []toolregistry.ToolDefinition
	if r.cache != nil {
		entry, _ := r.cache.Get(access.CacheKey{Caller: callerType, SpecialistID: specialistID})
		defs = entry.Definitions
	} else {
		defs = r.access.GetAvailableTools(callerType, specialistID)
	}
	out := make([]external.ToolDescriptor, 0, len(defs))
	for _, d := range defs {
		out = append(out, external.ToolDescriptor{
			Name:             string(d.Name),
			Description:      d.Description,
			ParametersSchema: d.Parameters,
		})
	}
	return out
}

type askQuestionResult struct {
	question string
}

// askQuestionInteraction inspects an askQuestion tool result (which may
// arrive already-decoded or as a JSON string) for needsChatInteraction.
func askQuestionInteraction(result any, execErr error) (askQuestionResult, bool) {
	if execErr != nil {
		return askQuestionResult{}, false
	}
	decoded, ok := decodeResultMap(result)
	if !ok {
		return askQuestionResult{}, false
	}
	needs, _ := decoded["needsChatInteraction"].(bool)
	if !needs {
		return askQuestionResult{}, false
	}
	question, _ := decoded["question"].(string)
	return askQuestionResult{question: question}, true
}

func decodeResultMap(result any) (map[string]any, bool) {
	switch v := result.(type) {
	case map[string]any:
		return v, true
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded, true
		}
	}
	return nil, false
}

// handleTaskComplete inspects a taskComplete result's
// contextForNext.projectState to decide requires_file_editing.
func (r *Runner) handleTaskComplete(specialistID string, result any, m agent.SpecialistOutputMeta) *agent.SpecialistOutput {
	decoded, _ := decodeResultMap(result)

	content, _ := decoded["content"].(string)
	if content == "" {
		content, _ = decoded["summary"].(string)
	}
	targetFile, _ := decoded["target_file"].(string)

	requiresEditing, known := projectStateRequiresEditing(decoded)
	if !known {
		requiresEditing = inferRequiresEditing(specialistID, m.ToolsUsed)
	}

	output := &agent.SpecialistOutput{
		Success:             true,
		Content:             content,
		RequiresFileEditing: requiresEditing,
		TargetFile:          targetFile,
		Meta:                m,
	}

	if requiresEditing {
		if rawInstructions, ok := decoded["edit_instructions"].([]any); ok {
			instructions := make([]agent.EditInstruction, 0, len(rawInstructions))
			for _, raw := range rawInstructions {
				if m, ok := raw.(map[string]any); ok {
					instructions = append(instructions, decodeEditInstruction(m))
				}
			}
			normalized, _ := NormalizeEditInstructions(instructions)
			output.EditInstructions = normalized
		}
	}

	if structured, ok := decoded["structuredData"].(map[string]any); ok {
		output.StructuredData = structured
	}

	return output
}

func projectStateRequiresEditing(decoded map[string]any) (bool, bool) {
	contextForNext, ok := decoded["contextForNext"].(map[string]any)
	if !ok {
		return false, false
	}
	projectState, ok := contextForNext["projectState"].(map[string]any)
	if !ok {
		return false, false
	}
	v, ok := projectState["requires_file_editing"].(bool)
	return v, ok
}

// inferRequiresEditing falls back to the three closed specialist-category
// sets when taskComplete's result leaves requires_file_editing unset.
func inferRequiresEditing(specialistID string, toolsUsed []string) bool {
	if directExecutionSpecialists[specialistID] {
		return false
	}
	if nonFileSpecialists[specialistID] {
		return false
	}
	if decisionOnlySpecialists[specialistID] {
		for _, t := range toolsUsed {
			if fileWritingTools[t] {
				return true
			}
		}
		return false
	}
	return false
}

func decodeEditInstruction(m map[string]any) agent.EditInstruction {
	instr := agent.EditInstruction{Raw: m}
	if v, ok := m["type"].(string); ok {
		instr.Type = v
	}
	if target, ok := m["target"].(map[string]any); ok {
		if v, ok := target["sectionName"].(string); ok {
			instr.SectionName = v
		}
	} else if v, ok := m["sectionName"].(string); ok {
		instr.SectionName = v
	}
	if v, ok := m["content"].(string); ok {
		instr.Content = v
	}
	if v, ok := m["reason"].(string); ok {
		instr.Reason = v
	}
	if v, ok := m["priority"].(float64); ok {
		p := int(v)
		instr.Priority = &p
	}
	if v, ok := m["action"].(string); ok {
		instr.Action = v
	}
	if v, ok := m["lines"].([]any); ok {
		lines := make([]int, 0, len(v))
		for _, l := range v {
			if f, ok := l.(float64); ok {
				lines = append(lines, int(f))
			}
		}
		instr.Lines = lines
	}
	return instr
}

func summarizeIterationForHistory(iteration int, kept []ToolResultEntry) string {
	if len(kept) == 0 {
		return fmt.Sprintf("迭代 %d: 无结果保留", iteration)
	}
	names := make([]string, 0, len(kept))
	for _, k := range kept {
		names = append(names, k.ToolName)
	}
	return fmt.Sprintf("迭代 %d: %d次操作 %v", iteration, len(kept), names)
}
