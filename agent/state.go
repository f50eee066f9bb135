// Package agent defines the core data model shared by the Engine, the
// Specialist Runner, and the Resume Machine: execution steps, agent state,
// plans, and the resume snapshot that lets a suspended pipeline pick back up
// after a user reply.
package agent

import "time"

// StepKind is the closed tag for an ExecutionStep's variant.
type StepKind string

const (
	StepThought         StepKind = "thought"
	StepToolCall        StepKind = "tool_call"
	StepToolCallSkipped StepKind = "tool_call_skipped"
	StepUserInteraction StepKind = "user_interaction"
	StepResult          StepKind = "result"
	StepForcedResponse  StepKind = "forced_response"
	StepSystem          StepKind = "system"
	StepPlanExecution   StepKind = "plan_execution"
)

// Stage is the closed tag for AgentState.Stage.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageExecuting    Stage = "executing"
	StageAwaitingUser Stage = "awaiting_user"
	StageCompleted    Stage = "completed"
	StageError        Stage = "error"
)

// ExecutionStep is one append-only entry in an AgentState's history.
// Invariant: once appended, a step is never mutated.
type ExecutionStep struct {
	Kind      StepKind
	Timestamp time.Time
	Iteration int

	ToolName string
	Args     map[string]any
	Result   any

	Success    *bool
	Duration   time.Duration
	ErrorCode  string
	RetryCount int

	// Text carries free-form content for thought/result/forced_response/system
	// steps (the plan's thought, a direct response, a summarising message).
	Text string
}

// InteractionType is the closed tag for a pending user interaction.
type InteractionType string

const (
	InteractionInput       InteractionType = "input"
	InteractionConfirm     InteractionType = "confirm"
	InteractionInteractive InteractionType = "interactive"
)

// PendingInteraction describes why the engine suspended for a user reply.
type PendingInteraction struct {
	Type    InteractionType
	Message string
}

// AgentState is the Engine's durable per-session state.
// Invariant: PendingInteraction is non-nil iff Stage == StageAwaitingUser.
// Invariant: IterationCount <= MaxIterations.
type AgentState struct {
	Stage              Stage
	CurrentTask        string
	ExecutionHistory   []ExecutionStep
	PendingInteraction *PendingInteraction
	ResumeContext      *ResumeContext
	IterationCount     int
	MaxIterations      int
	Cancelled          bool
}

// DefaultMaxIterations is the Engine's default outer-loop bound.
const DefaultMaxIterations = 15

// NewAgentState constructs a fresh AgentState ready for its first task.
func NewAgentState() *AgentState {
	return &AgentState{
		Stage:         StagePlanning,
		MaxIterations: DefaultMaxIterations,
	}
}

// historyMaxEntries and historyTrimKeep implement the Engine's trim rule:
// history is trimmed once it exceeds historyMaxEntries, keeping only the
// most recent historyTrimKeep entries.
const (
	historyMaxEntries = 100
	historyTrimKeep   = 50
)

// AppendStep appends a step to the history, never mutating prior entries.
func (s *AgentState) AppendStep(step ExecutionStep) {
	s.ExecutionHistory = append(s.ExecutionHistory, step)
}

// TrimHistoryIfNeeded applies the 100-entry trim rule, removing a prefix and
// leaving the most recent historyTrimKeep entries intact. It is a no-op when
// the history is within bounds.
func (s *AgentState) TrimHistoryIfNeeded() {
	if len(s.ExecutionHistory) <= historyMaxEntries {
		return
	}
	keep := s.ExecutionHistory[len(s.ExecutionHistory)-historyTrimKeep:]
	trimmed := make([]ExecutionStep, len(keep))
	copy(trimmed, keep)
	s.ExecutionHistory = trimmed
}

// ResponseMode is the closed tag for AIPlan.ResponseMode.
type ResponseMode string

const (
	ModeKnowledgeQA   ResponseMode = "KNOWLEDGE_QA"
	ModeToolExecution ResponseMode = "TOOL_EXECUTION"
	ModePlanExecution ResponseMode = "PLAN_EXECUTION"
)

// ToolCallRequest is one entry in an AIPlan.ToolCalls list.
type ToolCallRequest struct {
	Name string
	Args map[string]any
}

// PlanStep is one step of an AIPlan.ExecutionPlan.
type PlanStep struct {
	SpecialistID   string
	Description    string
	ExpectedOutput string
}

// ExecutionPlan is the ordered multi-step plan carried by a PLAN_EXECUTION AIPlan.
type ExecutionPlan struct {
	Steps []PlanStep
}

// AIPlan is the LLM's structured decision for one turn.
type AIPlan struct {
	Thought        string
	ResponseMode   ResponseMode
	DirectResponse string
	ToolCalls      []ToolCallRequest
	ExecutionPlan  *ExecutionPlan
}

// HasToolCalls reports whether the plan requests any tool invocations.
func (p AIPlan) HasToolCalls() bool { return len(p.ToolCalls) > 0 }
