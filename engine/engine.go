// Package engine implements the agent execution loop and resume machine:
// the outer state machine that classifies tool calls, drives iteration,
// detects loops, and round-trips user-interaction suspension. One Engine
// drives one user session as a single cooperative loop; suspension is an
// in-process pendingInteraction field plus a serialisable ResumeContext,
// not a durable workflow.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/classify"
	"github.com/srs-writer/agent-engine/compress"
	"github.com/srs-writer/agent-engine/config"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/specialist"
	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolerrors"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// FinalAnswerTool is the sentinel tool name that always terminates the
// current turn successfully.
const FinalAnswerTool = "finalAnswer"

// StreamFunc delivers a short outcome message to the chat-host UI stream.
type StreamFunc func(ctx context.Context, message string)

// Engine drives one user session's execution loop. It uniquely owns that
// session's AgentState.
type Engine struct {
	state *agent.AgentState

	registry   *toolregistry.Registry
	access     *access.Controller
	cache      access.Cache
	classifier *classify.Classifier
	loops      *classify.LoopDetector
	compressor *compress.Compressor
	specialist *specialist.Runner
	planner    external.Planner
	planExec   external.PlanExecutor
	session    external.SessionStore
	model      string
	stream     StreamFunc
	logger     telemetry.Logger

	unsubscribe func()
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStream attaches the chat-host stream sink.
func WithStream(f StreamFunc) Option {
	return func(e *Engine) { e.stream = f }
}

// WithModel pins the model identifier passed to the planner and specialist
// runner for this engine's lifetime.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithConfig applies the loop-detector window/threshold, outer- and
// inner-loop iteration bounds, and history-compressor budget loaded from a
// config.Config, overriding the package defaults New otherwise builds.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		e.loops = classify.NewLoopDetector(cfg.LoopDetector.Options()...)
		e.compressor = compress.New(compress.WithBudget(cfg.Compressor.Budget()))
		e.state.MaxIterations = cfg.Iterations.MaxIterations
		if e.specialist != nil {
			e.specialist.SetMaxInternalIterations(cfg.Iterations.MaxInternalIterations)
		}
	}
}

// New builds an Engine wired to its collaborators. cache fronts accessCtl;
// pass nil to have the Engine build its own MemoryCache over accessCtl, so
// the Engine never ends up without a working cache in front of its access
// checks.
func New(
	registry *toolregistry.Registry,
	accessCtl *access.Controller,
	cache access.Cache,
	runner *specialist.Runner,
	planner external.Planner,
	planExec external.PlanExecutor,
	session external.SessionStore,
	opts ...Option,
) *Engine {
	e := &Engine{
		state:      agent.NewAgentState(),
		registry:   registry,
		access:     accessCtl,
		cache:      cache,
		classifier: classify.New(),
		loops:      classify.NewLoopDetector(),
		compressor: compress.New(),
		specialist: runner,
		planner:    planner,
		planExec:   planExec,
		session:    session,
		logger:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = access.NewMemoryCache(registry, accessCtl, e.logger)
	}
	if session != nil {
		e.unsubscribe = session.Subscribe(e)
	}
	return e
}

// GetState returns the Engine's current AgentState.
func (e *Engine) GetState() *agent.AgentState { return e.state }

// IsAwaitingUser reports whether the Engine is suspended for a user reply.
func (e *Engine) IsAwaitingUser() bool { return e.state.Stage == agent.StageAwaitingUser }

// Dispose unsubscribes from the session store.
func (e *Engine) Dispose() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// OnSessionChanged implements external.SessionObserver: a nil notification
// while awaiting a user clears the pending interaction and completes the
// turn, since there is no session left to resume into.
func (e *Engine) OnSessionChanged(ctx *external.SessionContext) {
	if ctx == nil && e.state.Stage == agent.StageAwaitingUser {
		e.state.PendingInteraction = nil
		e.state.Stage = agent.StageCompleted
	}
}

func (e *Engine) emit(ctx context.Context, message string) {
	if e.stream != nil {
		e.stream(ctx, message)
	}
}

// logSession best-effort appends entry to the session store's operation
// log. A nil store or a write failure never interrupts the turn; the log is
// an audit trail, not a control-flow input.
func (e *Engine) logSession(ctx context.Context, entry external.SessionLogEntry) {
	if e.session == nil {
		return
	}
	if err := e.session.UpdateSessionWithLog(ctx, entry); err != nil {
		e.logger.Warn(ctx, "session log write failed", "operation", entry.Operation, "error", err.Error())
	}
}

func boolPtr(b bool) *bool { return &b }

// ExecuteTask starts a new user turn. It is a no-op while a previous turn
// is still awaiting a user reply.
func (e *Engine) ExecuteTask(ctx context.Context, userInput string) {
	if e.IsAwaitingUser() {
		e.emit(ctx, "still awaiting your reply to the previous question")
		return
	}

	e.state.AppendStep(agent.ExecutionStep{
		Kind:      agent.StepSystem,
		Timestamp: time.Now(),
		Text:      "--- new task ---",
	})
	e.state.TrimHistoryIfNeeded()

	e.state.CurrentTask = userInput
	e.state.Stage = agent.StagePlanning
	e.state.IterationCount = 0
	e.state.PendingInteraction = nil

	e.runLoop(ctx)
}

// runLoop drives iterations until the turn terminates or suspends.
func (e *Engine) runLoop(ctx context.Context) {
	for e.state.Stage != agent.StageCompleted && e.state.Stage != agent.StageError &&
		e.state.Stage != agent.StageAwaitingUser && e.state.IterationCount < e.state.MaxIterations {

		if e.state.Cancelled {
			e.state.Stage = agent.StageError
			e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false), Text: "cancelled"})
			return
		}

		if !e.executeIteration(ctx) {
			return
		}
	}

	if e.state.Stage != agent.StageCompleted && e.state.Stage != agent.StageError && e.state.Stage != agent.StageAwaitingUser {
		// Exhausted maxIterations without terminating.
		e.state.Stage = agent.StageError
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false), Text: "exceeded max iterations"})
		e.emit(ctx, "I wasn't able to finish this within the iteration budget.")
	}
}

// executeIteration runs one plan/dispatch cycle. It returns false if a
// fatal error or suspension means the caller should stop looping (the stage
// already reflects the outcome).
func (e *Engine) executeIteration(ctx context.Context) (keepGoing bool) {
	defer func() {
		if r := recover(); r != nil {
			e.state.Stage = agent.StageError
			e.state.AppendStep(agent.ExecutionStep{
				Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false),
				Text: fmt.Sprintf("internal error: %v", r),
			})
			e.emit(ctx, "something went wrong internally; the task has been stopped.")
			keepGoing = false
		}
	}()

	session, _ := e.currentSession(ctx)

	historyCtx, toolResultsCtx := e.compressedContexts()

	plan, err := e.planner.Plan(ctx, external.PlanInput{
		CurrentTask:        e.state.CurrentTask,
		Session:            session,
		HistoryContext:     historyCtx,
		ToolResultsContext: toolResultsCtx,
	})
	if err != nil {
		e.state.Stage = agent.StageError
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(false), Text: err.Error()})
		e.emit(ctx, "planning failed: "+err.Error())
		return false
	}

	e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepThought, Timestamp: time.Now(), Iteration: e.state.IterationCount, Text: plan.Thought})
	e.logSession(ctx, external.SessionLogEntry{Type: external.OperationAIResponseReceived, Operation: "plan", Success: true})

	if plan.ResponseMode == agent.ModePlanExecution && plan.ExecutionPlan != nil {
		return e.dispatchPlanExecution(ctx, plan, session)
	}

	if plan.ResponseMode == agent.ModeKnowledgeQA && plan.DirectResponse != "" && !plan.HasToolCalls() {
		e.completeWithDirectResponse(ctx, plan.DirectResponse)
		return false
	}

	return e.dispatchToolExecution(ctx, plan)
}

// completeWithDirectResponse finishes the turn by emitting plan.DirectResponse
// verbatim.
func (e *Engine) completeWithDirectResponse(ctx context.Context, text string) {
	e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(true), Text: text})
	e.state.Stage = agent.StageCompleted
	e.emit(ctx, text)
}

// completeWithForcedResponse finishes the turn with a summarising message
// the engine itself composed, recorded as a forced_response step.
func (e *Engine) completeWithForcedResponse(ctx context.Context, text string) {
	e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepForcedResponse, Timestamp: time.Now(), Success: boolPtr(true), Text: text})
	e.state.Stage = agent.StageCompleted
	e.emit(ctx, text)
}

func (e *Engine) currentSession(ctx context.Context) (*external.SessionContext, error) {
	if e.session == nil {
		return nil, nil
	}
	return e.session.GetCurrentSession(ctx)
}

// compressedContexts renders the Engine's history through the History
// Compressor to produce the planner's history-context and tool-results
// context.
func (e *Engine) compressedContexts() (historyContext, toolResultsContext string) {
	var historyLines, resultLines []string
	for _, step := range e.state.ExecutionHistory {
		line := renderStepForHistory(step)
		if line == "" {
			continue
		}
		switch step.Kind {
		case agent.StepToolCall, agent.StepToolCallSkipped:
			resultLines = append(resultLines, line)
		default:
			historyLines = append(historyLines, line)
		}
	}
	compressedHistory := e.compressor.Compress(historyLines, e.state.IterationCount)
	compressedResults := e.compressor.Compress(resultLines, e.state.IterationCount)
	return joinLines(compressedHistory), joinLines(compressedResults)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func renderStepForHistory(step agent.ExecutionStep) string {
	switch step.Kind {
	case agent.StepThought:
		return fmt.Sprintf("Iteration %d: plan %s", step.Iteration, step.Text)
	case agent.StepUserInteraction:
		return fmt.Sprintf("Iteration %d: user replied %s", step.Iteration, step.Text)
	case agent.StepToolCall:
		status := "✅"
		if step.Success != nil && !*step.Success {
			status = "❌"
		}
		return fmt.Sprintf("Iteration %d: %s %s", step.Iteration, status, step.ToolName)
	case agent.StepToolCallSkipped:
		return fmt.Sprintf("Iteration %d: skipped %s", step.Iteration, step.ToolName)
	case agent.StepResult, agent.StepForcedResponse:
		return fmt.Sprintf("Iteration %d: %s", step.Iteration, step.Text)
	default:
		return ""
	}
}

func decodeIfString(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

func classifyErr(err error) toolerrors.ErrorCode {
	return toolerrors.Classify(err)
}
