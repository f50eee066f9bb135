// Package classify implements risk/interaction classification for tool
// calls and duplicate/infinite-loop detection over execution history. A
// registry entry's declared interaction type and risk level always beat
// name-based inference; the pattern rules below apply only to undeclared
// tools.
package classify

import (
	"strings"

	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// Classification is the (interactionType, riskLevel, requiresConfirmation)
// triple assigned to a tool call.
type Classification struct {
	Interaction          toolregistry.InteractionType
	Risk                 toolregistry.RiskLevel
	RequiresConfirmation bool
}

var interactivePatterns = []string{
	"ask", "question", "input", "select", "choose", "confirm", "prompt", "dialog", "modal", "picker",
}

var interactiveArgKeys = []string{"options", "choices", "question", "prompt"}

var highRiskPatterns = []string{
	"delete", "remove", "drop", "truncate", "destroy", "execute", "run",
	"command", "shell", "terminal", "admin", "sudo", "privileged",
}

var highRiskArgKeys = []string{"command", "script"}

var mediumRiskPatterns = []string{
	"write", "create", "modify", "update", "edit", "move", "rename", "copy", "install",
}

var importantPathMarkers = []string{"package.json", "config", "settings", ".env"}

const mediumRiskContentThreshold = 5000

// Classifier assigns a Classification to each tool call.
type Classifier struct{}

// New builds a Classifier. It carries no state: every call consults
// only its arguments, so one instance may be shared across callers.
func New() *Classifier {
	return &Classifier{}
}

// Classify assigns a Classification to a tool call. def is the tool's
// registry entry if known; it may be nil for an unregistered name, in
// which case classification falls straight to the pattern rules.
func (c *Classifier) Classify(call agent.ToolCallRequest, history []agent.ExecutionStep, def *toolregistry.ToolDefinition) Classification {
	if def != nil && def.InteractionType != "" && def.RiskLevel != "" {
		return Classification{
			Interaction:          def.InteractionType,
			Risk:                 def.RiskLevel,
			RequiresConfirmation: def.RequiresConfirmation,
		}
	}

	name := strings.ToLower(string(call.Name))

	if containsAny(name, interactivePatterns) || hasAnyArgKey(call.Args, interactiveArgKeys) {
		return Classification{Interaction: toolregistry.InteractionInteractive, Risk: toolregistry.RiskLow, RequiresConfirmation: false}
	}

	if containsAny(name, highRiskPatterns) || hasUnsafePath(call.Args) || hasAnyArgKey(call.Args, highRiskArgKeys) {
		return Classification{Interaction: toolregistry.InteractionConfirmation, Risk: toolregistry.RiskHigh, RequiresConfirmation: true}
	}

	if containsAny(name, mediumRiskPatterns) {
		return Classification{
			Interaction:          toolregistry.InteractionConfirmation,
			Risk:                 toolregistry.RiskMedium,
			RequiresConfirmation: mediumRiskContextHeuristic(call, history),
		}
	}

	return Classification{Interaction: toolregistry.InteractionAutonomous, Risk: toolregistry.RiskLow, RequiresConfirmation: false}
}

// mediumRiskContextHeuristic decides confirmation for medium-risk tools:
// a ≥2-repeat burst of
// the same tool lowers confirmation frequency; writing more than 5,000
// characters, or to an important path, raises it.
func mediumRiskContextHeuristic(call agent.ToolCallRequest, history []agent.ExecutionStep) bool {
	if hasLargeContent(call.Args) || touchesImportantPath(call.Args) {
		return true
	}
	if recentRepeatCount(call, history) >= 2 {
		return false
	}
	return true
}

func recentRepeatCount(call agent.ToolCallRequest, history []agent.ExecutionStep) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		if step.Kind != agent.StepToolCall {
			continue
		}
		if step.ToolName != string(call.Name) {
			break
		}
		count++
	}
	return count
}

func hasLargeContent(args map[string]any) bool {
	for _, key := range []string{"content", "text", "data"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && len(s) > mediumRiskContentThreshold {
				return true
			}
		}
	}
	return false
}

func touchesImportantPath(args map[string]any) bool {
	for _, key := range []string{"path", "filePath", "file", "target"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				lower := strings.ToLower(s)
				for _, marker := range importantPathMarkers {
					if strings.Contains(lower, marker) {
						return true
					}
				}
			}
		}
	}
	return false
}

func hasUnsafePath(args map[string]any) bool {
	for _, key := range []string{"path", "filePath", "file", "target", "directory", "dir"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				if strings.HasPrefix(s, "/") || strings.Contains(s, "..") {
					return true
				}
			}
		}
	}
	return false
}

func hasAnyArgKey(args map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := args[k]; ok {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
