// Package config loads the engine's operational knobs, including the
// srs-writer.mcp.excludeKeywords discovery blacklist: a YAML file read with
// os.ReadFile and decoded with gopkg.in/yaml.v3 into tagged structs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/classify"
	"github.com/srs-writer/agent-engine/compress"
	"github.com/srs-writer/agent-engine/specialist"
)

// LoopDetector holds the Classifier/LoopDetector's window and repeat
// threshold.
type LoopDetector struct {
	WindowSize int `yaml:"windowSize"`
	Threshold  int `yaml:"threshold"`
}

// Options converts the loaded settings into classify.LoopDetectorOptions
// ready to hand to classify.NewLoopDetector.
func (l LoopDetector) Options() []classify.LoopDetectorOption {
	return []classify.LoopDetectorOption{
		classify.WithLoopWindow(l.WindowSize),
		classify.WithLoopThreshold(l.Threshold),
	}
}

// Iterations bounds the outer Engine loop and a specialist's own internal
// iteration budget.
type Iterations struct {
	MaxIterations         int `yaml:"maxIterations"`
	MaxInternalIterations int `yaml:"maxInternalIterations"`
}

// Compressor configures the History Compressor's total token budget and its
// immediate/recent/milestone tier split.
type Compressor struct {
	Total             int     `yaml:"total"`
	ImmediateFraction float64 `yaml:"immediateFraction"`
	RecentFraction    float64 `yaml:"recentFraction"`
	MilestoneFraction float64 `yaml:"milestoneFraction"`
}

// Budget converts the loaded settings into a compress.Budget ready to hand
// to compress.WithBudget.
func (c Compressor) Budget() compress.Budget {
	return compress.Budget{
		Total:             c.Total,
		ImmediateFraction: c.ImmediateFraction,
		RecentFraction:    c.RecentFraction,
		MilestoneFraction: c.MilestoneFraction,
	}
}

// Interaction configures the soft timeout a deployment may apply while a
// session sits in StageAwaitingUser. This is a deployment-level knob, not a
// core invariant: the engine never forcibly cancels a suspended turn.
// The timeout is expressed in whole seconds in YAML (plain integers decode
// cleanly via yaml.v3's reflection-based scalar handling; a Go duration
// string like "10m" would not).
type Interaction struct {
	SuspensionSoftTimeoutSeconds int `yaml:"suspensionSoftTimeoutSeconds"`
}

// SuspensionSoftTimeout returns the configured timeout as a time.Duration.
func (i Interaction) SuspensionSoftTimeout() time.Duration {
	return time.Duration(i.SuspensionSoftTimeoutSeconds) * time.Second
}

// MCP holds the substring blacklist filtering which externally-discovered
// tools get registered.
type MCP struct {
	ExcludeKeywords []string `yaml:"excludeKeywords"`
}

// Config is the root configuration document.
type Config struct {
	MCP          MCP          `yaml:"srs-writer.mcp"`
	LoopDetector LoopDetector `yaml:"loopDetector"`
	Iterations   Iterations   `yaml:"iterations"`
	Compressor   Compressor   `yaml:"compressor"`
	Interaction  Interaction  `yaml:"interaction"`
}

// Default returns the same defaults classify.NewLoopDetector, agent.NewAgentState,
// specialist.MaxInternalIterations, and compress.DefaultBudget otherwise fall
// back to when unconfigured.
func Default() Config {
	budget := compress.DefaultBudget()
	return Config{
		LoopDetector: LoopDetector{WindowSize: classify.DefaultLoopWindow, Threshold: classify.DefaultLoopThreshold},
		Iterations:   Iterations{MaxIterations: agent.DefaultMaxIterations, MaxInternalIterations: specialist.MaxInternalIterations},
		Compressor: Compressor{
			Total:             budget.Total,
			ImmediateFraction: budget.ImmediateFraction,
			RecentFraction:    budget.RecentFraction,
			MilestoneFraction: budget.MilestoneFraction,
		},
		Interaction: Interaction{SuspensionSoftTimeoutSeconds: 30 * 60},
	}
}

// Load reads and decodes a YAML configuration file, filling any field the
// file omits from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
