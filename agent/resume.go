package agent

import "time"

// NextAction is the closed tag for ResumeGuidance.NextAction.
type NextAction string

const (
	NextActionContinueSpecialist NextAction = "continue_specialist_execution"
	NextActionRetryToolCall      NextAction = "retry_tool_call"
	NextActionEscalateToUser     NextAction = "escalate_to_user"
)

// ResumePoint is the closed tag for ResumeGuidance.ResumePoint.
type ResumePoint string

const (
	ResumeBeforeToolCall ResumePoint = "before_tool_call"
	ResumeAfterToolCall  ResumePoint = "after_tool_call"
	ResumeNextIteration  ResumePoint = "next_iteration"
)

// ResumeGuidance tells the resume path what to do next and what shape of
// reply it should expect.
type ResumeGuidance struct {
	NextAction           NextAction
	ResumePoint          ResumePoint
	ExpectedResponseType string
}

// SpecialistPlanSnapshot is the specialist's parsed plan frozen at the
// suspension point, before its execution had been folded into the
// internal history.
type SpecialistPlanSnapshot struct {
	Content        string
	DirectResponse string
	ToolCalls      []ToolCallRequest
}

// SpecialistToolResult is one tool result gathered during the suspended
// iteration, before the askQuestion call.
type SpecialistToolResult struct {
	ToolName string
	Path     string
	Payload  string
}

// SpecialistLoopState is a frozen snapshot of the Specialist Runner's inner
// loop, sufficient to resume it after a user reply. Beyond the loop
// counters and history it captures the iteration that was suspended
// mid-flight: the plan whose tool calls were being executed, the results
// gathered so far, the step context the prompt was assembled from, and
// every tool name used across the run, so a resumed invocation rebuilds
// the exact prompt and edit-requirement inference a synchronous reply
// would have produced.
type SpecialistLoopState struct {
	SpecialistID       string
	CurrentIteration   int
	MaxIterations      int
	ExecutionHistory   []string
	IsLooping          bool
	StartTime          time.Time
	LastContinueReason string

	CurrentPlan        *SpecialistPlanSnapshot
	ToolResults        []SpecialistToolResult
	ContextForThisStep string
	ToolsUsed          []string
}

// AskQuestionContext preserves the original askQuestion tool call so the
// resume path can reconstruct the specialist's prompt context.
type AskQuestionContext struct {
	OriginalToolCall ToolCallRequest
	Question         string
	RawToolResult    any
}

// ResumeContext is the complete snapshot needed to restart a suspended
// pipeline. It is a tree, never a cyclic graph:
// plan -> current step -> specialist loop state -> askQuestion context.
type ResumeContext struct {
	PlanSnapshot             *AIPlan
	CurrentStep              int
	CompletedStepResults     map[int]*SpecialistOutput
	SerializedSessionContext map[string]any
	OriginalUserInput        string
	SpecialistLoopState      *SpecialistLoopState
	AskQuestionContext       *AskQuestionContext
	ResumeGuidance           ResumeGuidance

	// PlanExecutorState carries the external Plan Executor's own opaque resume
	// state. Nil for a legacy resume context, which readers must tolerate
	// rather than reject.
	PlanExecutorState map[string]any
}

// IsLegacy reports whether this context predates the PlanExecutorState /
// AskQuestionContext / ResumeGuidance fields. A context carrying any of
// them, including a specialist loop snapshot from a direct specialist-tool
// suspension (which never has a plan executor behind it), is not legacy.
func (r *ResumeContext) IsLegacy() bool {
	if r == nil {
		return true
	}
	return r.PlanExecutorState == nil && r.AskQuestionContext == nil && r.SpecialistLoopState == nil &&
		r.ResumeGuidance == (ResumeGuidance{})
}
