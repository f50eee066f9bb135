package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/toolerrors"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// dispatchToolExecution iterates a plan's tool calls left-to-right, skipping duplicates, honoring the finalAnswer
// sentinel, and classifying every other call before dispatch. Returns false
// whenever the turn terminates or suspends this iteration.
func (e *Engine) dispatchToolExecution(ctx context.Context, plan agent.AIPlan) bool {
	if !plan.HasToolCalls() {
		// A KNOWLEDGE_QA/TOOL_EXECUTION plan with neither tool calls nor a
		// direct response is treated the same as an empty iteration: count it
		// and let the outer loop re-plan.
		e.state.IterationCount++
		return true
	}

	allSkipped := true
	now := time.Now()

	for _, call := range plan.ToolCalls {
		if e.loops.HasRecentToolExecution(string(call.Name), call.Args, e.state.ExecutionHistory, now) {
			e.state.AppendStep(agent.ExecutionStep{
				Kind: agent.StepToolCallSkipped, Timestamp: now, Iteration: e.state.IterationCount,
				ToolName: call.Name, Args: call.Args,
			})
			continue
		}
		allSkipped = false

		if call.Name == FinalAnswerTool {
			return e.dispatchFinalAnswer(ctx, call)
		}

		if suspended := e.dispatchOneCall(ctx, call); suspended {
			return false
		}
	}

	if allSkipped {
		e.completeWithForcedResponse(ctx, "I've already performed these actions; nothing further to do.")
		return false
	}

	e.state.IterationCount++
	if e.loops.DetectInfiniteLoop(e.state.ExecutionHistory) {
		e.completeWithForcedResponse(ctx, "Detected a repeating tool-call pattern; stopping here with what has been accomplished so far.")
		return false
	}
	return true
}

func (e *Engine) dispatchFinalAnswer(ctx context.Context, call agent.ToolCallRequest) bool {
	e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionStart, Operation: call.Name, ToolName: call.Name, Success: true})
	result, err := e.registry.ExecuteTool(ctx, toolregistry.Ident(call.Name), call.Args)
	success := err == nil
	if success {
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionEnd, Operation: call.Name, ToolName: call.Name, Success: true})
	} else {
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionFailed, Operation: call.Name, ToolName: call.Name, Success: false, Error: err.Error()})
	}
	e.state.AppendStep(agent.ExecutionStep{
		Kind: agent.StepToolCall, Timestamp: time.Now(), Iteration: e.state.IterationCount,
		ToolName: call.Name, Args: call.Args, Result: result, Success: boolPtr(success),
	})
	if err != nil {
		e.emit(ctx, fmt.Sprintf("%v", err))
	} else {
		e.emit(ctx, fmt.Sprintf("%v", result))
	}
	e.state.Stage = agent.StageCompleted
	return false
}

// dispatchOneCall classifies and dispatches a single tool call. It returns
// true if the turn suspended for user interaction.
func (e *Engine) dispatchOneCall(ctx context.Context, call agent.ToolCallRequest) (suspended bool) {
	def, _ := e.registry.GetToolDefinition(toolregistry.Ident(call.Name))
	var defPtr *toolregistry.ToolDefinition
	if def.Name != "" {
		defPtr = &def
	}

	cls := e.classifier.Classify(call, e.state.ExecutionHistory, defPtr)

	switch cls.Interaction {
	case toolregistry.InteractionInteractive:
		e.state.PendingInteraction = &agent.PendingInteraction{Type: agent.InteractionInteractive, Message: renderPrompt(call)}
		e.state.ResumeContext = nil
		e.state.Stage = agent.StageAwaitingUser
		e.emit(ctx, renderPrompt(call))
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationUserQuestionAsked, Operation: string(call.Name), ToolName: call.Name, Success: true})
		return true

	case toolregistry.InteractionConfirmation:
		if cls.RequiresConfirmation {
			e.state.PendingInteraction = &agent.PendingInteraction{Type: agent.InteractionConfirm, Message: confirmationPrompt(call)}
			e.state.Stage = agent.StageAwaitingUser
			e.emit(ctx, confirmationPrompt(call))
			e.logSession(ctx, external.SessionLogEntry{Type: external.OperationUserQuestionAsked, Operation: string(call.Name), ToolName: call.Name, Success: true})
			return true
		}
		return e.executeAutonomous(ctx, call, defPtr)

	default: // autonomous
		return e.executeAutonomous(ctx, call, defPtr)
	}
}

func renderPrompt(call agent.ToolCallRequest) string {
	if q, ok := call.Args["question"].(string); ok && q != "" {
		return q
	}
	if p, ok := call.Args["prompt"].(string); ok && p != "" {
		return p
	}
	return fmt.Sprintf("%s needs your input to continue", call.Name)
}

func confirmationPrompt(call agent.ToolCallRequest) string {
	return fmt.Sprintf("About to run %s with %v — proceed? (yes/no)", call.Name, call.Args)
}

// toolAccessible checks def's visibility to the orchestrator's own caller
// type through the Access Controller's Cache. This is a defensive re-check: the plan's tool list
// should already exclude denied tools, but a stale or hand-rolled planner
// integration must not be able to bypass the Controller's visibility rule.
// Specialist-layer tools skip this check entirely: they are dispatched via
// the distinct specialist-tool path, which is not subject to the
// orchestrator's own caller-visibility rule.
func (e *Engine) toolAccessible(def *toolregistry.ToolDefinition) bool {
	entry, _ := e.cache.Get(access.CacheKey{Caller: toolregistry.CallerOrchestratorToolExecution})
	for _, d := range entry.Definitions {
		if d.Name == def.Name {
			return true
		}
	}
	return false
}

// executeAutonomous runs a classified-autonomous tool call. A LayerSpecialist
// tool is dispatched through the Specialist Runner instead of the registry
// directly. It returns true if that
// dispatch suspended the turn for a user reply.
func (e *Engine) executeAutonomous(ctx context.Context, call agent.ToolCallRequest, def *toolregistry.ToolDefinition) (suspended bool) {
	if def != nil && def.Layer == toolregistry.LayerSpecialist {
		return e.executeSpecialistCall(ctx, call, def)
	}

	if def != nil && !e.toolAccessible(def) {
		e.logger.Warn(ctx, "access denied", "tool", call.Name)
		e.state.AppendStep(agent.ExecutionStep{
			Kind: agent.StepToolCall, Timestamp: time.Now(), Iteration: e.state.IterationCount,
			ToolName: call.Name, Args: call.Args, Success: boolPtr(false), ErrorCode: string(toolerrors.ErrPermissionDenied),
		})
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionFailed, Operation: call.Name, ToolName: call.Name, Success: false, Error: "access denied"})
		return false
	}

	started := time.Now()
	e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionStart, Operation: call.Name, ToolName: call.Name, Success: true})

	result, err := e.registry.ExecuteTool(ctx, toolregistry.Ident(call.Name), call.Args)
	step := agent.ExecutionStep{
		Kind: agent.StepToolCall, Timestamp: time.Now(), Iteration: e.state.IterationCount,
		ToolName: call.Name, Args: call.Args,
	}
	elapsed := time.Since(started)
	step.Duration = elapsed
	if err != nil {
		step.Success = boolPtr(false)
		step.ErrorCode = string(classifyErr(err))
		step.Result = err.Error()
		e.logger.Warn(ctx, "tool call failed", "tool", call.Name, "errorCode", step.ErrorCode)
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionFailed, Operation: call.Name, ToolName: call.Name, Success: false, ExecutionTime: elapsed.Milliseconds(), Error: err.Error()})
	} else {
		step.Success = boolPtr(true)
		step.Result = result
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationToolExecutionEnd, Operation: call.Name, ToolName: call.Name, Success: true, ExecutionTime: elapsed.Milliseconds()})
	}
	e.state.AppendStep(step)
	return false
}

// executeSpecialistCall dispatches a specialist-layer tool call via the
// Specialist Runner. It returns
// true when the specialist asked a question and the turn must suspend.
func (e *Engine) executeSpecialistCall(ctx context.Context, call agent.ToolCallRequest, def *toolregistry.ToolDefinition) (suspended bool) {
	category := external.SpecialistCategoryContent
	if def.Category == string(external.SpecialistCategoryProcess) {
		category = external.SpecialistCategoryProcess
	}

	specContext := external.SpecialistContext{
		UserRequirements: e.state.CurrentTask,
		StructuredContext: external.StructuredContext{
			CurrentStep: fmt.Sprintf("%v", call.Args),
		},
	}

	e.logSession(ctx, external.SessionLogEntry{Type: external.OperationSpecialistInvoked, Operation: string(call.Name), ToolName: call.Name, Success: true})

	output, interaction, err := e.specialist.Execute(ctx, string(call.Name), category, specContext, e.model, nil)
	if err != nil {
		e.state.AppendStep(agent.ExecutionStep{
			Kind: agent.StepToolCall, Timestamp: time.Now(), Iteration: e.state.IterationCount,
			ToolName: call.Name, Args: call.Args, Success: boolPtr(false), ErrorCode: string(classifyErr(err)),
		})
		return false
	}

	if interaction != nil {
		e.state.PendingInteraction = &agent.PendingInteraction{Type: agent.InteractionInput, Message: interaction.Question}
		e.state.ResumeContext = interaction.ResumeContext
		e.state.Stage = agent.StageAwaitingUser
		e.emit(ctx, interaction.Question)
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationUserQuestionAsked, Operation: string(call.Name), ToolName: call.Name, Success: true})
		return true
	}

	e.state.AppendStep(agent.ExecutionStep{
		Kind: agent.StepToolCall, Timestamp: time.Now(), Iteration: e.state.IterationCount,
		ToolName: call.Name, Args: call.Args, Success: boolPtr(output.Success), Result: output,
	})
	return false
}
