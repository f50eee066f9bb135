// Package external declares the contracts the Specialist Runner and
// Engine consume but never implement themselves: the LLM
// chat adapter, the MCP-style tool host, the session store, and the
// prompt assembler. Concrete adapters live in external/llm,
// external/toolhost, and external/sessionstore; this package is the
// seam the core packages depend on.
package external

import (
	"context"
	"strings"
)

// ToolDescriptor is the wire shape the Specialist Runner hands an LLM
// host for one available tool.
type ToolDescriptor struct {
	Name             string
	Description      string
	ParametersSchema map[string]any
}

// ToolMode constrains how a ChatAdapter may use the tool descriptors it
// is given.
type ToolMode string

const (
	ToolModeAuto     ToolMode = "auto"
	ToolModeRequired ToolMode = "required"
	ToolModeNone     ToolMode = "none"
)

// ChatRequest is one turn sent to a ChatAdapter.
type ChatRequest struct {
	Messages      []ChatMessage
	Tools         []ToolDescriptor
	ToolMode      ToolMode
	Justification string
}

// ChatRole is the closed set of conversation roles a ChatMessage may carry.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ChatMessage is one provider-agnostic conversation turn.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatStream is what a ChatAdapter hands back: an async iterator of text
// fragments.
type ChatStream struct {
	// Fragments delivers text chunks as they arrive; the producer closes
	// it when the stream ends.
	Fragments <-chan string
	// Err resolves once Fragments is drained, carrying any terminal
	// stream error (nil on clean completion).
	Err <-chan error
}

// Drain reads every fragment from a ChatStream into one string. Callers
// that want streaming behavior should read Fragments directly instead.
func (s ChatStream) Drain(ctx context.Context) (string, error) {
	var text string
	for {
		select {
		case frag, ok := <-s.Fragments:
			if !ok {
				select {
				case err := <-s.Err:
					return text, err
				default:
					return text, nil
				}
			}
			text += frag
		case <-ctx.Done():
			return text, ctx.Err()
		}
	}
}

// ChatAdapter is the LLM chat contract. Concrete adapters
// (external/llm/anthropic.go, openai.go, bedrock.go) wrap a specific
// provider SDK; the adapter is allowed, but not required, to invoke
// tools itself before returning.
type ChatAdapter interface {
	SendRequest(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ToolContentPart is one part of a ToolHost result: either
// a text part (Value set) or an opaque non-text part.
type ToolContentPart struct {
	Value string
	Other any
}

// ToolInvocation is one call a ToolHost is asked to perform.
type ToolInvocation struct {
	Input               map[string]any
	ToolInvocationToken string
}

// ToolHostResult is the wrapped shape core always works with:
// on success, Content; on error, the recoverable-classification fields.
type ToolHostResult struct {
	Success     bool
	Content     []ToolContentPart
	Error       string
	UserMessage string
	Recoverable bool
	Suggestion  string
}

// ToolHost is the MCP-style tool transport. Core wraps raw invocation
// errors into ToolHostResult.Recoverable by substring inspection: "not
// running" / "connection refused" / "ECONNREFUSED" are recoverable,
// "invalid input" / "validation failed" are recoverable with a schema
// suggestion, anything else is non-recoverable.
type ToolHost interface {
	InvokeTool(ctx context.Context, name string, inv ToolInvocation) (ToolHostResult, error)
}

// ClassifyToolHostError applies the error-message heuristic above to turn
// a raw ToolHost error into a ToolHostResult.
func ClassifyToolHostError(name string, err error) ToolHostResult {
	msg := err.Error()
	switch {
	case containsAnyFold(msg, "not running", "connection refused", "econnrefused"):
		return ToolHostResult{Success: false, Error: msg, UserMessage: "the " + name + " tool is not currently available", Recoverable: true}
	case containsAnyFold(msg, "invalid input", "validation failed"):
		return ToolHostResult{Success: false, Error: msg, UserMessage: "the arguments for " + name + " did not validate", Recoverable: true, Suggestion: "check the tool's parameter schema and retry"}
	default:
		return ToolHostResult{Success: false, Error: msg, UserMessage: name + " failed", Recoverable: false}
	}
}

// OperationType is the closed tag for a SessionStore log entry's type.
type OperationType string

const (
	OperationUserResponseReceived OperationType = "USER_RESPONSE_RECEIVED"
	OperationUserQuestionAsked    OperationType = "USER_QUESTION_ASKED"
	OperationToolExecutionStart   OperationType = "TOOL_EXECUTION_START"
	OperationToolExecutionEnd     OperationType = "TOOL_EXECUTION_END"
	OperationToolExecutionFailed  OperationType = "TOOL_EXECUTION_FAILED"
	OperationSpecialistInvoked    OperationType = "SPECIALIST_INVOKED"
	OperationAIResponseReceived   OperationType = "AI_RESPONSE_RECEIVED"
)

// SessionLogEntry is one entry appended via SessionStore.UpdateSessionWithLog.
type SessionLogEntry struct {
	Type          OperationType
	Operation     string
	ToolName      string
	Success       bool
	ExecutionTime int64
	Error         string
}

// SessionMetadata carries the subset of session bookkeeping core reads.
type SessionMetadata struct {
	LastModified int64
}

// SessionContext is the external session snapshot core reads and merges
// during resume.
type SessionContext struct {
	SessionContextID string
	ProjectName      string
	BaseDir          string
	Metadata         SessionMetadata
}

// SessionObserver receives session-change notifications. A nil ctx
// means the session was cleared.
type SessionObserver interface {
	OnSessionChanged(ctx *SessionContext)
}

// SessionStore is the external session-state contract. Core
// never caches its return values; every access reads the current value.
type SessionStore interface {
	GetCurrentSession(ctx context.Context) (*SessionContext, error)
	UpdateSessionWithLog(ctx context.Context, entry SessionLogEntry) error
	Subscribe(observer SessionObserver) (unsubscribe func())
}

// SpecialistCategory distinguishes content-producing specialists from
// process/side-effecting ones.
type SpecialistCategory string

const (
	SpecialistCategoryContent SpecialistCategory = "content"
	SpecialistCategoryProcess SpecialistCategory = "process"
)

// SpecialistType identifies a specialist for prompt assembly.
type SpecialistType struct {
	Name     string
	Category SpecialistCategory
}

// SpecialistContext is the structured input to prompt assembly.
type SpecialistContext struct {
	UserRequirements  string
	StructuredContext StructuredContext
	ProjectMetadata   map[string]any
}

// StructuredContext carries the per-step, per-run context a prompt
// template interpolates.
type StructuredContext struct {
	CurrentStep      string
	DependentResults map[string]any
	InternalHistory  []string
}

// PromptAssembler is the external prompt-template contract.
// The fallback path loads the role's markdown template from a search
// path and performs simple {{VAR}} substitution; this interface lets
// core remain agnostic to which path a given deployment takes.
type PromptAssembler interface {
	AssembleSpecialistPrompt(ctx context.Context, specialistType SpecialistType, specContext SpecialistContext) (string, error)
}

func containsAnyFold(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
