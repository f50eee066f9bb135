package specialist

import (
	"regexp"
	"strings"
)

// editableDocumentPatterns matches the known editable document paths whose
// read-tool results get dropped from the internal history projection.
var editableDocumentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)SRS\.md$`),
	regexp.MustCompile(`(?i)requirements\.ya?ml$`),
	regexp.MustCompile(`(?i)fr\.ya?ml$`),
	regexp.MustCompile(`(?i)nfr\.ya?ml$`),
	regexp.MustCompile(`(?i)glossary\.ya?ml$`),
}

// largeMarkdownThreshold recognizes sizeable Markdown section content even
// when the path itself doesn't match an editable-document pattern.
const largeMarkdownThreshold = 2000

var readToolNames = map[string]bool{
	"readFile":       true,
	"readTextFile":   true,
	"readMarkdown":   true,
	"readSection":    true,
	"getFileContent": true,
}

// ToolResultEntry is one tool-call result the Specialist Runner is
// deciding whether to keep in the internal history projection.
type ToolResultEntry struct {
	ToolName string
	Path     string
	Payload  string
}

// ShouldKeepResult drops read-tool results on known editable documents, or
// with a large Markdown payload; it keeps everything else, including on
// parse failure and for non-read tools.
func ShouldKeepResult(entry ToolResultEntry) bool {
	if !readToolNames[entry.ToolName] {
		return true
	}
	if matchesEditableDocument(entry.Path) {
		return false
	}
	if looksLikeLargeMarkdown(entry.Payload) {
		return false
	}
	return true
}

func matchesEditableDocument(path string) bool {
	for _, re := range editableDocumentPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func looksLikeLargeMarkdown(payload string) bool {
	if len(payload) < largeMarkdownThreshold {
		return false
	}
	return strings.Contains(payload, "#") || strings.Contains(payload, "##")
}

// FilterResults applies ShouldKeepResult across a batch, preserving order.
func FilterResults(entries []ToolResultEntry) []ToolResultEntry {
	out := make([]ToolResultEntry, 0, len(entries))
	for _, e := range entries {
		if ShouldKeepResult(e) {
			out = append(out, e)
		}
	}
	return out
}
