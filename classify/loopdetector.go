package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/srs-writer/agent-engine/agent"
)

// DefaultDuplicateWindow is how far back hasRecentToolExecution looks
// for a matching fingerprint.
const DefaultDuplicateWindow = 30 * time.Second

// DefaultLoopWindow and DefaultLoopThreshold are the loop detector's
// scan window (in recent tool_call and tool_call_skipped steps) and
// repetition threshold,
// tunable via the corresponding options.
const (
	DefaultLoopWindow    = 5
	DefaultLoopThreshold = 3
)

// LoopDetector finds duplicate tool calls and repeating tool-call
// patterns in an AgentState's execution history.
type LoopDetector struct {
	duplicateWindow time.Duration
	loopWindow      int
	loopThreshold   int
}

// LoopDetectorOption configures a LoopDetector.
type LoopDetectorOption func(*LoopDetector)

// WithDuplicateWindow overrides the 30-second duplicate-detection window.
func WithDuplicateWindow(d time.Duration) LoopDetectorOption {
	return func(l *LoopDetector) { l.duplicateWindow = d }
}

// WithLoopWindow overrides how many recent tool_call and tool_call_skipped
// steps the infinite-loop check scans.
func WithLoopWindow(n int) LoopDetectorOption {
	return func(l *LoopDetector) { l.loopWindow = n }
}

// WithLoopThreshold overrides how many repeats of the same tool name within
// the loop window trigger a forced response.
func WithLoopThreshold(n int) LoopDetectorOption {
	return func(l *LoopDetector) { l.loopThreshold = n }
}

// NewLoopDetector builds a LoopDetector with the package defaults,
// overridden by any opts.
func NewLoopDetector(opts ...LoopDetectorOption) *LoopDetector {
	l := &LoopDetector{
		duplicateWindow: DefaultDuplicateWindow,
		loopWindow:      DefaultLoopWindow,
		loopThreshold:   DefaultLoopThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// fingerprint derives a stable identity for a (name, args) pair.
// json.Marshal sorts map keys, so argument ordering never affects
// equality.
func fingerprint(name string, args map[string]any) string {
	raw, err := json.Marshal(struct {
		Name string
		Args map[string]any
	}{Name: name, Args: args})
	if err != nil {
		return name
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HasRecentToolExecution reports whether an equivalent tool call (same
// name and args fingerprint) appears among history's tool_call steps
// within the last duplicateWindow.
func (l *LoopDetector) HasRecentToolExecution(name string, args map[string]any, history []agent.ExecutionStep, now time.Time) bool {
	target := fingerprint(name, args)
	cutoff := now.Add(-l.duplicateWindow)
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		if step.Kind != agent.StepToolCall {
			continue
		}
		if !step.Timestamp.After(cutoff) {
			break
		}
		if fingerprint(step.ToolName, step.Args) == target {
			return true
		}
	}
	return false
}

// DetectInfiniteLoop inspects the most recent loopWindow tool_call and
// tool_call_skipped steps and reports whether any single tool name repeats at least loopThreshold
// times, meaning the engine should force a summarising
// direct response instead of continuing to iterate.
func (l *LoopDetector) DetectInfiniteLoop(history []agent.ExecutionStep) bool {
	counts := make(map[string]int)
	scanned := 0
	for i := len(history) - 1; i >= 0 && scanned < l.loopWindow; i-- {
		step := history[i]
		if step.Kind != agent.StepToolCall && step.Kind != agent.StepToolCallSkipped {
			continue
		}
		counts[step.ToolName]++
		scanned++
	}
	for _, n := range counts {
		if n >= l.loopThreshold {
			return true
		}
	}
	return false
}
