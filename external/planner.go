// This file declares the two external collaborators the Engine (package
// engine) drives each turn but never implements itself: the
// planner that turns a task plus compressed history into one AIPlan, and the
// plan executor that walks a PLAN_EXECUTION plan's steps across one or more
// specialists. Both are external collaborators in the same sense
// PromptAssembler and ToolHost are: the Engine only needs their interface
// shape.
package external

import (
	"context"

	"github.com/srs-writer/agent-engine/agent"
)

// PlanInput is what the Engine hands the external planner once per
// iteration.
type PlanInput struct {
	CurrentTask        string
	Session            *SessionContext
	HistoryContext     string
	ToolResultsContext string
}

// Planner produces one AIPlan per engine iteration.
type Planner interface {
	Plan(ctx context.Context, input PlanInput) (agent.AIPlan, error)
}

// PlanExecStatus is the closed tag for a PlanExecResult.
type PlanExecStatus string

const (
	PlanCompleted          PlanExecStatus = "plan_completed"
	PlanFailed             PlanExecStatus = "plan_failed"
	PlanUserInteractionReq PlanExecStatus = "user_interaction_required"
)

// PlanExecResult is the Plan Executor's report for one dispatch or resume.
type PlanExecResult struct {
	Status        PlanExecStatus
	FinalContent  string
	Question      string
	ResumeContext *agent.ResumeContext
	// StepResults accumulates every completed step's SpecialistOutput so a
	// later ContinueExecution call (or a legacy-resume reconstruction) can
	// see prior steps' work.
	StepResults map[int]*agent.SpecialistOutput
}

// PlanExecutor runs a PLAN_EXECUTION plan's steps against one or more
// specialists. The Engine
// passes the already-produced plan so the executor never re-derives it with
// a redundant LLM round-trip.
type PlanExecutor interface {
	// Execute dispatches plan from its first step.
	Execute(ctx context.Context, plan agent.AIPlan, session *SessionContext) (PlanExecResult, error)

	// ContinueExecution resumes a suspended plan at currentStep after a user
	// reply has already been folded into specialistResult.
	ContinueExecution(ctx context.Context, plan agent.AIPlan, currentStep int, stepResults map[int]*agent.SpecialistOutput, session *SessionContext, model string, userInput string, specialistResult *agent.SpecialistOutput) (PlanExecResult, error)
}
