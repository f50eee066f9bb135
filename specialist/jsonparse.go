package specialist

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/srs-writer/agent-engine/agent"
)

// ParsedPlan is the standardized shape every parse strategy in §4.2.1
// normalizes its result into: {content?, structuredData?,
// direct_response?, tool_calls?}.
type ParsedPlan struct {
	Content        string
	StructuredData map[string]any
	DirectResponse string
	ToolCalls      []agent.ToolCallRequest
}

// rawPlan is the wire shape an LLM is expected to emit; it gets
// standardized into ParsedPlan once parsed.
type rawPlan struct {
	Content        string         `json:"content"`
	StructuredData map[string]any `json:"structuredData"`
	DirectResponse string         `json:"direct_response"`
	ToolCalls      []rawToolCall  `json:"tool_calls"`
}

type rawToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseLLMOutput tries each parse strategy in order, taking the first
// whose result satisfies isValidPlan.
func ParseLLMOutput(raw string) ParsedPlan {
	if block := fencedJSONBlock.FindStringSubmatch(raw); block != nil {
		if plan, ok := tryParse(block[1]); ok {
			return plan
		}
	}

	if candidate, ok := braceBalancedExtract(raw); ok {
		if plan, ok := tryParse(candidate); ok {
			return plan
		}
	}

	if candidate, ok := greedyExtract(raw); ok {
		if plan, ok := tryParse(candidate); ok {
			return plan
		}
	}

	return ParsedPlan{DirectResponse: raw}
}

// tryParse repairs and parses one JSON candidate, returning it
// standardized and whether it satisfies isValidPlan.
func tryParse(candidate string) (ParsedPlan, bool) {
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		repaired = candidate
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return ParsedPlan{}, false
	}

	plan := standardize(raw)
	if !isValidPlan(plan) {
		return ParsedPlan{}, false
	}
	return plan, true
}

func standardize(raw rawPlan) ParsedPlan {
	calls := make([]agent.ToolCallRequest, 0, len(raw.ToolCalls))
	for _, c := range raw.ToolCalls {
		calls = append(calls, agent.ToolCallRequest{Name: c.Name, Args: c.Args})
	}
	return ParsedPlan{
		Content:        raw.Content,
		StructuredData: raw.StructuredData,
		DirectResponse: raw.DirectResponse,
		ToolCalls:      calls,
	}
}

// isValidPlan requires at least one tool call, or non-empty
// content/direct-response.
func isValidPlan(p ParsedPlan) bool {
	return len(p.ToolCalls) > 0 || strings.TrimSpace(p.Content) != "" || strings.TrimSpace(p.DirectResponse) != ""
}

// braceBalancedExtract scans for the outermost {...} block, tracking
// string-literal state and backslash escapes so that braces inside
// string content never confuse the balance count.
func braceBalancedExtract(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// greedyExtract takes everything from the first '{' to the last '}'.
func greedyExtract(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
