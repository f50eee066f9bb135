package specialist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srs-writer/agent-engine/agent"
)

func TestNormalizeSemanticInstruction(t *testing.T) {
	priority := 1
	raw := agent.EditInstruction{
		Type:        "replace_section",
		SectionName: "Overview",
		Content:     "new text",
		Reason:      "clarify scope",
		Priority:    &priority,
	}
	got, class := NormalizeEditInstruction(raw)
	assert.Equal(t, EditSemantic, class)
	assert.Equal(t, "semantic", got.Kind)
}

func TestNormalizeSemanticInstructionMissingRequiredFieldIsUnknown(t *testing.T) {
	raw := agent.EditInstruction{Type: "replace_section", SectionName: "Overview"}
	_, class := NormalizeEditInstruction(raw)
	assert.Equal(t, EditUnknown, class)
}

func TestNormalizeTraditionalInstruction(t *testing.T) {
	raw := agent.EditInstruction{Action: "insert", Lines: []int{3, 4}, Content: "line text"}
	got, class := NormalizeEditInstruction(raw)
	assert.Equal(t, EditTraditional, class)
	assert.Equal(t, "traditional", got.Kind)
}

func TestNormalizeTraditionalInstructionInvalidLineIsUnknown(t *testing.T) {
	raw := agent.EditInstruction{Action: "insert", Lines: []int{0}, Content: "x"}
	_, class := NormalizeEditInstruction(raw)
	assert.Equal(t, EditUnknown, class)
}

func TestNormalizeUnknownInstruction(t *testing.T) {
	raw := agent.EditInstruction{Type: "mystery_type"}
	_, class := NormalizeEditInstruction(raw)
	assert.Equal(t, EditUnknown, class)
}

func TestNormalizeEditInstructionsCounts(t *testing.T) {
	instructions := []agent.EditInstruction{
		{Type: "append_to_section", SectionName: "A", Content: "x", Reason: "y"},
		{Action: "replace", Lines: []int{1}, Content: "z"},
		{Type: "nonsense"},
	}
	_, counts := NormalizeEditInstructions(instructions)
	assert.Equal(t, 1, counts[EditSemantic])
	assert.Equal(t, 1, counts[EditTraditional])
	assert.Equal(t, 1, counts[EditUnknown])
}
