package specialist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldKeepResultDropsEditableDocumentRead(t *testing.T) {
	e := ToolResultEntry{ToolName: "readFile", Path: "docs/SRS.md", Payload: "some content"}
	assert.False(t, ShouldKeepResult(e))
}

func TestShouldKeepResultKeepsNonReadTool(t *testing.T) {
	e := ToolResultEntry{ToolName: "writeFile", Path: "docs/SRS.md", Payload: "some content"}
	assert.True(t, ShouldKeepResult(e))
}

func TestShouldKeepResultDropsLargeMarkdownPayload(t *testing.T) {
	payload := "## Section\n" + strings.Repeat("word ", 1000)
	e := ToolResultEntry{ToolName: "readFile", Path: "notes/other.md", Payload: payload}
	assert.False(t, ShouldKeepResult(e))
}

func TestShouldKeepResultKeepsSmallUnrelatedRead(t *testing.T) {
	e := ToolResultEntry{ToolName: "readFile", Path: "notes/other.md", Payload: "short"}
	assert.True(t, ShouldKeepResult(e))
}

func TestFilterResultsPreservesOrder(t *testing.T) {
	entries := []ToolResultEntry{
		{ToolName: "readFile", Path: "fr.yaml", Payload: "x"},
		{ToolName: "listAllFiles", Payload: "y"},
		{ToolName: "readFile", Path: "fr.yml", Payload: "z"},
	}
	kept := FilterResults(entries)
	assert.Len(t, kept, 1)
	assert.Equal(t, "listAllFiles", kept[0].ToolName)
}
