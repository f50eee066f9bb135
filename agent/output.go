package agent

import "time"

// EditInstruction is an opaque-to-the-core edit instruction produced by a
// content specialist. The markdown semantic-edit engine interprets its
// Type/Action-specific fields; the core only classifies it and passes it
// through.
type EditInstruction struct {
	// Kind is "semantic", "traditional", or "unknown".
	Kind string

	// Semantic fields.
	Type        string
	SectionName string
	Content     string
	Reason      string
	Priority    *int

	// Traditional fields.
	Action string
	Lines  []int

	// Raw preserves the original decoded instruction for editors that want
	// more than the classified fields.
	Raw map[string]any
}

// SpecialistOutputMeta carries the bookkeeping attached to every
// SpecialistOutput.
type SpecialistOutputMeta struct {
	Specialist    string
	Iterations    int
	ExecutionTime time.Duration
	Timestamp     time.Time
	ToolsUsed     []string
}

// SpecialistOutput is the terminal result of a Specialist Runner invocation.
// Invariant: Success == false implies RequiresFileEditing == false.
type SpecialistOutput struct {
	Success             bool
	Content             string
	Error               string
	RequiresFileEditing bool
	TargetFile          string
	EditInstructions    []EditInstruction
	StructuredData      map[string]any
	Meta                SpecialistOutputMeta
}

// NewFailedOutput constructs a SpecialistOutput satisfying the
// success/edit-requirement invariant for a failure path.
func NewFailedOutput(specialistID, errMsg string, meta SpecialistOutputMeta) *SpecialistOutput {
	meta.Specialist = specialistID
	return &SpecialistOutput{Success: false, Error: errMsg, RequiresFileEditing: false, Meta: meta}
}

// SpecialistInteractionResult is the distinct shape a Specialist Runner
// returns when the specialist calls askQuestion. It is the
// only path by which the inner loop suspends.
type SpecialistInteractionResult struct {
	Success              bool // always false
	NeedsChatInteraction bool // always true
	ResumeContext        *ResumeContext
	Question             string
}
