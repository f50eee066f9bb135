// Command accessreport prints a Tool Access Controller visibility report for
// one caller, useful for debugging which tools a given caller/specialist
// combination can see.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/srs-writer/agent-engine/access"
	"github.com/srs-writer/agent-engine/toolregistry"
)

func main() {
	caller := flag.String("caller", string(toolregistry.CallerOrchestratorToolExecution), "caller type: ORCHESTRATOR_TOOL_EXECUTION, ORCHESTRATOR_KNOWLEDGE_QA, SPECIALIST_CONTENT, SPECIALIST_PROCESS, DOCUMENT")
	specialistID := flag.String("specialist", "", "specialist identifier (only meaningful for SPECIALIST_CONTENT/SPECIALIST_PROCESS callers)")
	flag.Parse()

	registry := toolregistry.NewRegistry()
	for _, def := range []toolregistry.ToolDefinition{
		{Name: "finalAnswer", Description: "terminate the turn with a final structured answer", Layer: toolregistry.LayerInternal, Category: "control"},
		{Name: "askQuestion", Description: "suspend the specialist to ask the user a question", Layer: toolregistry.LayerSpecialist, Category: "control"},
		{Name: "taskComplete", Description: "signal end-of-task with the edit-requirement decision", Layer: toolregistry.LayerSpecialist, Category: "control"},
	} {
		if err := registry.RegisterTool(def, nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	ctl := access.NewController(registry, nil, nil)

	_, report := ctl.Report(toolregistry.CallerType(*caller), *specialistID)
	fmt.Fprint(os.Stdout, report)
}
