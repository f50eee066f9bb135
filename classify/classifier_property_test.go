package classify

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// TestDeterminismOfClassificationProperty checks that for every (toolCall,
// history) pair Classify returns the same triple, and that when a registry
// entry declares interactionType and riskLevel the name-based rules are
// never consulted.
func TestDeterminismOfClassificationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	nameGen := gen.Identifier()

	properties.Property("classification is a pure function of its inputs", prop.ForAll(
		func(name string) bool {
			c := New()
			call := agent.ToolCallRequest{Name: name}
			a := c.Classify(call, nil, nil)
			b := c.Classify(call, nil, nil)
			return a == b
		},
		nameGen,
	))

	properties.Property("a declared interactionType+riskLevel is never overridden by name-based rules", prop.ForAll(
		func(name string) bool {
			c := New()
			def := &toolregistry.ToolDefinition{
				Name:                 toolregistry.Ident(name),
				InteractionType:      toolregistry.InteractionAutonomous,
				RiskLevel:            toolregistry.RiskLow,
				RequiresConfirmation: false,
			}
			// name is arbitrary and may itself match a high-risk or
			// interactive pattern (e.g. "deleteNow"); the declared values
			// must still win.
			got := c.Classify(agent.ToolCallRequest{Name: "delete" + name}, nil, def)
			return got.Interaction == toolregistry.InteractionAutonomous && got.Risk == toolregistry.RiskLow && !got.RequiresConfirmation
		},
		nameGen,
	))

	properties.TestingRun(t)
}

// TestDuplicateSuppressionProperty checks that a tool call with identical
// name and args to one appended within the last 30 seconds is always
// flagged as a duplicate.
func TestDuplicateSuppressionProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	nameGen := gen.Identifier()
	secondsAgoGen := gen.IntRange(0, 120)

	properties.Property("a call within the duplicate window is always flagged, outside it never is", prop.ForAll(
		func(name string, secondsAgo int) bool {
			l := NewLoopDetector()
			now := time.Now()
			args := map[string]any{"k": "v"}
			history := []agent.ExecutionStep{
				{Kind: agent.StepToolCall, ToolName: name, Args: args, Timestamp: now.Add(-time.Duration(secondsAgo) * time.Second)},
			}
			got := l.HasRecentToolExecution(name, args, history, now)
			want := secondsAgo < 30
			return got == want
		},
		nameGen, secondsAgoGen,
	))

	properties.TestingRun(t)
}
