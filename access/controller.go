// Package access implements per-caller tool visibility fronted by an
// invalidate-on-mutation Cache. The controller owns no state of its own: every call re-reads the
// toolregistry.Registry snapshot so a reader can never observe a partially
// applied registration.
package access

import (
	"context"
	"fmt"

	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// SpecialistChecker confirms whether a specialist identifier currently names
// an enabled specialist. The registry (external to this package, owned by
// whatever assembles specialists) implements this.
type SpecialistChecker interface {
	IsEnabled(specialistID string) bool
}

// AccessStats summarizes a visibility computation for one caller.
type AccessStats struct {
	TotalTools      int
	AccessibleTools int
	DeniedTools     int
	ByLayer         map[toolregistry.Layer]int
}

// Controller computes tool visibility for a given caller.
type Controller struct {
	registry   *toolregistry.Registry
	specialist SpecialistChecker
	logger     telemetry.Logger
}

// NewController builds a Controller over registry. specialist may be nil,
// in which case specialist-identifier accessibleBy entries are always denied
// with a warning.
func NewController(registry *toolregistry.Registry, specialist SpecialistChecker, logger telemetry.Logger) *Controller {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Controller{registry: registry, specialist: specialist, logger: logger}
}

// ValidateAccess reports whether caller (optionally identified by
// specialistID when caller is one of the two specialist CallerTypes) may see
// tool.
func (c *Controller) ValidateAccess(caller toolregistry.CallerType, specialistID string, tool toolregistry.ToolDefinition) bool {
	if len(tool.AccessibleBy) > 0 {
		for _, entry := range tool.AccessibleBy {
			if string(entry) == string(caller) {
				return true
			}
			if specialistID != "" && string(entry) == specialistID {
				if c.specialist == nil || !c.specialist.IsEnabled(specialistID) {
					c.logger.Warn(context.Background(), "accessibleBy names a specialist that is not enabled",
						"tool", string(tool.Name), "specialist", specialistID)
					return false
				}
				return true
			}
		}
		return false
	}
	return c.defaultPolicy(caller, tool.Layer)
}

// defaultPolicy applies the layer-based default when AccessibleBy is empty.
func (c *Controller) defaultPolicy(caller toolregistry.CallerType, layer toolregistry.Layer) bool {
	switch layer {
	case toolregistry.LayerSpecialist:
		return caller == toolregistry.CallerSpecialistContent || caller == toolregistry.CallerSpecialistProcess
	case toolregistry.LayerDocument:
		return caller == toolregistry.CallerOrchestratorToolExecution ||
			caller == toolregistry.CallerSpecialistContent ||
			caller == toolregistry.CallerSpecialistProcess
	case toolregistry.LayerAtomic, toolregistry.LayerInternal:
		return isOrchestratorOrSpecialist(caller)
	default:
		c.logger.Warn(context.Background(), "tool has unknown layer, applying conservative default", "layer", string(layer))
		return caller == toolregistry.CallerOrchestratorToolExecution
	}
}

func isOrchestratorOrSpecialist(caller toolregistry.CallerType) bool {
	switch caller {
	case toolregistry.CallerOrchestratorToolExecution,
		toolregistry.CallerOrchestratorKnowledgeQA,
		toolregistry.CallerSpecialistContent,
		toolregistry.CallerSpecialistProcess:
		return true
	default:
		return false
	}
}

// GetAvailableTools returns every tool definition accessible to caller: a
// tool is in this list iff ValidateAccess(caller, specialistID, tool) is
// true.
func (c *Controller) GetAvailableTools(caller toolregistry.CallerType, specialistID string) []toolregistry.ToolDefinition {
	all := c.registry.GetAllDefinitions()
	out := make([]toolregistry.ToolDefinition, 0, len(all))
	for _, d := range all {
		if c.ValidateAccess(caller, specialistID, d) {
			out = append(out, d)
		}
	}
	return out
}

// Stats computes AccessStats for caller, acting as specialistID (which may
// be empty).
func (c *Controller) Stats(caller toolregistry.CallerType, specialistID string) AccessStats {
	all := c.registry.GetAllDefinitions()
	stats := AccessStats{TotalTools: len(all), ByLayer: make(map[toolregistry.Layer]int)}
	for _, d := range all {
		if c.ValidateAccess(caller, specialistID, d) {
			stats.AccessibleTools++
			stats.ByLayer[d.Layer]++
		} else {
			stats.DeniedTools++
		}
	}
	return stats
}

// Report renders a human-readable access report for debugging.
func (c *Controller) Report(caller toolregistry.CallerType, specialistID string) (AccessStats, string) {
	stats := c.Stats(caller, specialistID)
	report := fmt.Sprintf("access report for caller=%s specialist=%q\n", caller, specialistID)
	report += fmt.Sprintf("  total=%d accessible=%d denied=%d\n", stats.TotalTools, stats.AccessibleTools, stats.DeniedTools)
	for layer, n := range stats.ByLayer {
		report += fmt.Sprintf("  layer %s: %d\n", layer, n)
	}
	return stats, report
}
