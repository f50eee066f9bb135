package engine

import (
	"context"
	"time"

	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/external"
)

// dispatchPlanExecution handles a PLAN_EXECUTION plan by delegating to the
// external Plan Executor and translating its result.
func (e *Engine) dispatchPlanExecution(ctx context.Context, plan agent.AIPlan, session *external.SessionContext) bool {
	result, err := e.planExec.Execute(ctx, plan, session)
	if err != nil {
		e.state.Stage = agent.StageError
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false), Text: err.Error()})
		e.emit(ctx, "plan execution failed: "+err.Error())
		return false
	}
	return e.applyPlanExecResult(ctx, plan, result)
}

// applyPlanExecResult translates the Plan Executor's three-way result into
// engine state. Any status other than failed/interaction-required,
// including future values, is treated as completion, the conservative
// choice.
func (e *Engine) applyPlanExecResult(ctx context.Context, plan agent.AIPlan, result external.PlanExecResult) bool {
	switch result.Status {
	case external.PlanFailed:
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false), Text: result.FinalContent})
		e.state.Stage = agent.StageError
		e.emit(ctx, "the plan failed: "+result.FinalContent)
		return false

	case external.PlanUserInteractionReq:
		e.state.PendingInteraction = &agent.PendingInteraction{Type: agent.InteractionInput, Message: result.Question}
		e.state.ResumeContext = result.ResumeContext
		e.state.Stage = agent.StageAwaitingUser
		e.emit(ctx, result.Question)
		e.logSession(ctx, external.SessionLogEntry{Type: external.OperationUserQuestionAsked, Operation: "planExecution", Success: true})
		return false

	default: // external.PlanCompleted, and any unrecognized status.
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(true), Text: result.FinalContent})
		e.state.Stage = agent.StageCompleted
		e.emit(ctx, result.FinalContent)
		return false
	}
}
