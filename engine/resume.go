package engine

import (
	"context"
	"time"

	"github.com/srs-writer/agent-engine/agent"
	"github.com/srs-writer/agent-engine/external"
	"github.com/srs-writer/agent-engine/specialist"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// HandleUserResponse resumes a suspended turn with the user's reply.
func (e *Engine) HandleUserResponse(ctx context.Context, reply string) {
	if e.state.Stage != agent.StageAwaitingUser || e.state.PendingInteraction == nil {
		e.emit(ctx, "there is no pending question to reply to")
		return
	}

	// Unconditionally clear; the specialist may re-establish it via
	// askQuestion below.
	e.state.PendingInteraction = nil
	rc := e.state.ResumeContext

	e.state.AppendStep(agent.ExecutionStep{
		Kind: agent.StepUserInteraction, Timestamp: time.Now(), Iteration: e.state.IterationCount, Text: reply,
	})
	e.logSession(ctx, external.SessionLogEntry{Type: external.OperationUserResponseReceived, Operation: "userResponse", Success: true})

	if rc != nil && !rc.IsLegacy() {
		e.resumeSuspended(ctx, rc, reply)
		return
	}

	if rc != nil {
		e.logger.Warn(ctx, "resuming from a legacy resume context; compatibility mode")
		e.emit(ctx, "resuming from an older session format; some context may be approximate")
	}

	e.replan(ctx)
}

// resumeSuspended handles a modern (non-legacy) ResumeContext: re-enter
// the suspended specialist with the user's reply, then hand its output
// back to the plan executor when one was driving (PlanSnapshot present),
// or terminate the turn directly for a standalone specialist-tool
// suspension.
func (e *Engine) resumeSuspended(ctx context.Context, rc *agent.ResumeContext, reply string) {
	specialistRC := reconstructSpecialistResumeContext(rc)

	session, _ := e.currentSession(ctx)
	mergedSession := mergeSession(session, rc.SerializedSessionContext)

	specialistID := ""
	var loopState *agent.SpecialistLoopState
	if specialistRC != nil && specialistRC.SpecialistLoopState != nil {
		loopState = specialistRC.SpecialistLoopState
		specialistID = loopState.SpecialistID
	}

	category := external.SpecialistCategoryContent
	if def, ok := e.registry.GetToolDefinition(toolregistry.Ident(specialistID)); ok {
		if def.Category == string(external.SpecialistCategoryProcess) {
			category = external.SpecialistCategoryProcess
		}
	}

	specContext := external.SpecialistContext{UserRequirements: rc.OriginalUserInput}

	resumeState := specialist.RestoreFromLoopState(loopState, reply)

	output, interaction, err := e.specialist.Execute(ctx, specialistID, category, specContext, e.model, resumeState)
	if err != nil {
		e.emit(ctx, "resuming the specialist failed: "+err.Error())
		e.replan(ctx)
		return
	}

	if interaction != nil {
		e.state.PendingInteraction = &agent.PendingInteraction{Type: agent.InteractionInput, Message: interaction.Question}
		e.state.ResumeContext = interaction.ResumeContext
		e.state.Stage = agent.StageAwaitingUser
		e.emit(ctx, interaction.Question)
		return
	}

	if !output.Success {
		e.emit(ctx, "the specialist could not continue: "+output.Error)
		e.replan(ctx)
		return
	}

	if taskFinished(output) {
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(true), Text: output.Content})
		e.state.Stage = agent.StageCompleted
		e.emit(ctx, output.Content)
		return
	}

	if rc.PlanSnapshot == nil {
		e.state.AppendStep(agent.ExecutionStep{Kind: agent.StepResult, Timestamp: time.Now(), Success: boolPtr(true), Text: output.Content})
		e.state.Stage = agent.StageCompleted
		e.emit(ctx, output.Content)
		return
	}

	stepResults := rc.CompletedStepResults
	if stepResults == nil {
		stepResults = map[int]*agent.SpecialistOutput{}
	}
	stepResults[rc.CurrentStep] = output

	result, err := e.planExec.ContinueExecution(ctx, *rc.PlanSnapshot, rc.CurrentStep, stepResults, mergedSession, e.model, reply, output)
	if err != nil {
		e.emit(ctx, "continuing the plan failed: "+err.Error())
		e.state.Stage = agent.StageError
		return
	}
	e.applyPlanExecResult(ctx, *rc.PlanSnapshot, result)
}

// replan clears any stale resume context and re-enters the execution loop.
func (e *Engine) replan(ctx context.Context) {
	e.state.ResumeContext = nil
	e.state.Stage = agent.StageExecuting
	e.runLoop(ctx)
}

// reconstructSpecialistResumeContext recovers the specialist's original
// resume context, preferring the nested askQuestionContext's own raw result
// (when it carried one), falling back to rc itself.
func reconstructSpecialistResumeContext(rc *agent.ResumeContext) *agent.ResumeContext {
	if rc == nil {
		return nil
	}
	if rc.AskQuestionContext != nil {
		if nested, ok := decodeIfString(rc.AskQuestionContext.RawToolResult); ok {
			if nestedRCRaw, ok := nested["resumeContext"]; ok {
				if nestedMap, ok := nestedRCRaw.(map[string]any); ok {
					if specID, ok := nestedMap["specialistId"].(string); ok && specID != "" {
						// Keep the outer loop state's in-flight snapshot
						// (history, plan, results, tools used); only the
						// specialist identity comes from the nested result.
						loopState := agent.SpecialistLoopState{SpecialistID: specID}
						if rc.SpecialistLoopState != nil {
							loopState = *rc.SpecialistLoopState
							loopState.SpecialistID = specID
						}
						reconstructed := *rc
						reconstructed.SpecialistLoopState = &loopState
						return &reconstructed
					}
				}
			}
		}
	}
	return rc
}

// mergeSession merges a serialized session snapshot onto the current
// session, with the current session winning on baseDir and projectName.
func mergeSession(current *external.SessionContext, serialized map[string]any) *external.SessionContext {
	if current == nil && serialized == nil {
		return nil
	}
	merged := &external.SessionContext{}
	if serialized != nil {
		if v, ok := serialized["sessionContextId"].(string); ok {
			merged.SessionContextID = v
		}
		if v, ok := serialized["projectName"].(string); ok {
			merged.ProjectName = v
		}
		if v, ok := serialized["baseDir"].(string); ok {
			merged.BaseDir = v
		}
	}
	if current != nil {
		merged.SessionContextID = current.SessionContextID
		if current.ProjectName != "" {
			merged.ProjectName = current.ProjectName
		}
		if current.BaseDir != "" {
			merged.BaseDir = current.BaseDir
		}
		merged.Metadata = current.Metadata
	}
	return merged
}

func taskFinished(output *agent.SpecialistOutput) bool {
	if output == nil || output.StructuredData == nil {
		return false
	}
	v, _ := output.StructuredData["nextStepType"].(string)
	return v == "TASK_FINISHED"
}
