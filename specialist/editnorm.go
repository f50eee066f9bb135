package specialist

import (
	"fmt"

	"github.com/srs-writer/agent-engine/agent"
)

// EditClass classifies one EditInstruction's shape.
// The classification is a boolean tag only: dispatch to the actual
// editor is the editor's concern, not this package's.
type EditClass int

const (
	EditUnknown EditClass = iota
	EditSemantic
	EditTraditional
)

var semanticEditTypes = map[string]bool{
	"replace_section":           true,
	"insert_after_section":      true,
	"insert_before_section":     true,
	"append_to_list":            true,
	"update_subsection":         true,
	"update_content_in_section": true,
	"insert_line_in_section":    true,
	"remove_content_in_section": true,
	"append_to_section":         true,
	"prepend_to_section":        true,
}

var traditionalActions = map[string]bool{
	"insert":  true,
	"replace": true,
}

// NormalizeEditInstruction classifies raw and, for the semantic case,
// validates its required fields (content: string, reason: string,
// optional priority: non-negative integer). An instruction that fails
// validation is reported as EditUnknown even if its `type` is recognized.
func NormalizeEditInstruction(raw agent.EditInstruction) (agent.EditInstruction, EditClass) {
	if raw.Type != "" && semanticEditTypes[raw.Type] {
		if !validSemanticFields(raw) {
			raw.Kind = "unknown"
			return raw, EditUnknown
		}
		raw.Kind = "semantic"
		return raw, EditSemantic
	}

	if raw.Action != "" && traditionalActions[raw.Action] && validTraditionalFields(raw) {
		raw.Kind = "traditional"
		return raw, EditTraditional
	}

	raw.Kind = "unknown"
	return raw, EditUnknown
}

func validSemanticFields(raw agent.EditInstruction) bool {
	if raw.SectionName == "" {
		return false
	}
	if raw.Content == "" || raw.Reason == "" {
		return false
	}
	if raw.Priority != nil && *raw.Priority < 0 {
		return false
	}
	return true
}

func validTraditionalFields(raw agent.EditInstruction) bool {
	if len(raw.Lines) == 0 {
		return false
	}
	for _, l := range raw.Lines {
		if l <= 0 {
			return false
		}
	}
	return raw.Content != ""
}

// NormalizeEditInstructions normalizes a whole slice, returning the
// normalized instructions alongside a count of each class for logging.
func NormalizeEditInstructions(raw []agent.EditInstruction) ([]agent.EditInstruction, map[EditClass]int) {
	out := make([]agent.EditInstruction, len(raw))
	counts := make(map[EditClass]int)
	for i, r := range raw {
		normalized, class := NormalizeEditInstruction(r)
		out[i] = normalized
		counts[class]++
	}
	return out, counts
}

func (c EditClass) String() string {
	switch c {
	case EditSemantic:
		return "semantic"
	case EditTraditional:
		return "traditional"
	default:
		return "unknown"
	}
}

func (c EditClass) GoString() string {
	return fmt.Sprintf("EditClass(%s)", c.String())
}
