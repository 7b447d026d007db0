package codemaster

import (
	"fmt"
	"strings"

	"github.com/codemaster-ai/codemaster/pkg/transport/session"
)

// Action result statuses. Everything except statusError is a successful
// tool call; the status tells the agent how to read the guidance.
const (
	statusSuccess   = "success"
	statusTemplate  = "template"
	statusGuidance  = "guidance"
	statusError     = "error"
	statusCompleted = "completed"
	statusPaused    = "paused"
	statusNoSession = "no_session"
)

// actionResult is the JSON payload returned for every workflow action.
type actionResult struct {
	Action                 string   `json:"action"`
	SessionID              string   `json:"session_id,omitempty"`
	Status                 string   `json:"status"`
	SuggestedNextActions   []string `json:"suggested_next_actions,omitempty"`
	CompletionGuidance     string   `json:"completion_guidance"`
	TasksCreated           int      `json:"tasks_created,omitempty"`
	TotalTasks             int      `json:"total_tasks,omitempty"`
	CompletedTasks         int      `json:"completed_tasks,omitempty"`
	CurrentTaskID          string   `json:"current_task_id,omitempty"`
	CurrentTaskDescription string   `json:"current_task_description,omitempty"`
	CurrentPhase           string   `json:"current_phase,omitempty"`
	MappingCompleted       bool     `json:"mapping_completed,omitempty"`
	TaskID                 string   `json:"task_id,omitempty"`
}

// actionGate is the minimum workflow stage each action requires.
var actionGate = map[string]Stage{
	"declare_capabilities":         StageCreated,
	"define_success_and_standards": StageCapabilitiesDeclared,
	"create_tasklist":              StageStandardsDefined,
	"map_capabilities":             StageTasklistCreated,
	"execute_next":                 StageCapabilitiesMapped,
	"mark_complete":                StageExecuting,
	"edit_task":                    StageTasklistCreated,
	"collaboration_request":        StageCreated,
	"end_session":                  StageCreated,
}

var knownActions = []string{
	"create_session", "declare_capabilities", "define_success_and_standards",
	"create_tasklist", "map_capabilities", "execute_next", "mark_complete",
	"get_status", "collaboration_request", "edit_task", "end_session",
}

// nextActionFor names the action that moves the workflow forward from the
// given stage.
func nextActionFor(stage Stage) string {
	switch stage {
	case StageCreated:
		return "declare_capabilities"
	case StageCapabilitiesDeclared:
		return "define_success_and_standards"
	case StageStandardsDefined:
		return "create_tasklist"
	case StageTasklistCreated:
		return "map_capabilities"
	case StageCapabilitiesMapped, StageExecuting:
		return "execute_next"
	default:
		return "create_session"
	}
}

// dispatch runs one workflow action against the session's state. The second
// return value is non-nil only for execute_next, which announces the task
// about to run before delivering its guidance.
func (inv *Invoker) dispatch(sess *session.Session, args *arguments) (*actionResult, *progressEvent) {
	st, _ := sess.GetData().(*State)

	switch args.Action {
	case "create_session":
		return createSession(sess, args), nil
	case "get_status":
		return getStatus(st), nil
	}

	if st == nil {
		return &actionResult{
			Action:               args.Action,
			Status:               statusGuidance,
			CompletionGuidance:   "No active workflow session. Start with create_session.",
			SuggestedNextActions: []string{"create_session"},
		}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.Stage == StageEnded {
		return &actionResult{
			Action:               args.Action,
			SessionID:            st.ID,
			Status:               statusGuidance,
			CompletionGuidance:   "This workflow session has ended. Start a new one with create_session.",
			SuggestedNextActions: []string{"create_session"},
		}, nil
	}

	required, known := actionGate[args.Action]
	if !known {
		return &actionResult{
			Action:             args.Action,
			SessionID:          st.ID,
			Status:             statusGuidance,
			CompletionGuidance: fmt.Sprintf("Action %q is not recognized. Available actions: %s.", args.Action, strings.Join(knownActions, ", ")),
		}, nil
	}
	if st.Stage < required {
		next := nextActionFor(st.Stage)
		return &actionResult{
			Action:    args.Action,
			SessionID: st.ID,
			Status:    statusGuidance,
			CompletionGuidance: fmt.Sprintf("Action %q is not available in stage %q. Continue with %s.",
				args.Action, st.Stage, next),
			SuggestedNextActions: []string{next},
		}, nil
	}

	switch args.Action {
	case "declare_capabilities":
		return declareCapabilities(st, args), nil
	case "define_success_and_standards":
		return defineSuccessAndStandards(st, args), nil
	case "create_tasklist":
		return createTasklist(st, args), nil
	case "map_capabilities":
		return mapCapabilities(st, args), nil
	case "execute_next":
		return executeNext(st)
	case "mark_complete":
		return markComplete(st), nil
	case "collaboration_request":
		return collaborationRequest(st, args), nil
	case "edit_task":
		return editTask(st, args), nil
	case "end_session":
		return endSession(st), nil
	default:
		// unreachable: covered by the gate lookup
		return &actionResult{Action: args.Action, Status: statusError, CompletionGuidance: "unhandled action"}, nil
	}
}

func createSession(sess *session.Session, args *arguments) *actionResult {
	st := newState(args.SessionName)
	sess.SetData(st)
	return &actionResult{
		Action:               "create_session",
		SessionID:            st.ID,
		Status:               statusSuccess,
		SuggestedNextActions: []string{"declare_capabilities"},
		CompletionGuidance: "Session created. Codemaster does not scan your environment: " +
			"declare every tool you have access to with declare_capabilities before planning.",
	}
}

func declareCapabilities(st *State, args *arguments) *actionResult {
	if len(args.AvailableTools) == 0 {
		return &actionResult{
			Action:               "declare_capabilities",
			SessionID:            st.ID,
			Status:               statusTemplate,
			SuggestedNextActions: []string{"declare_capabilities"},
			CompletionGuidance: "Declare every tool available in your context, not just the obviously relevant ones. " +
				"Each entry needs name, description, and relevance_assessment. " +
				`Example: {"action":"declare_capabilities","available_tools":[{"name":"read_file","description":"Reads file contents","relevance_assessment":"Highly relevant"}]}`,
		}
	}

	for i, tool := range args.AvailableTools {
		if tool.Name == "" || tool.Description == "" {
			return &actionResult{
				Action:               "declare_capabilities",
				SessionID:            st.ID,
				Status:               statusError,
				SuggestedNextActions: []string{"declare_capabilities"},
				CompletionGuidance:   fmt.Sprintf("Tool declaration %d is missing a name or description.", i+1),
			}
		}
	}

	st.Capabilities = append([]ToolDeclaration(nil), args.AvailableTools...)
	if st.Stage < StageCapabilitiesDeclared {
		st.Stage = StageCapabilitiesDeclared
	}

	high, moderate := 0, 0
	for _, tool := range st.Capabilities {
		switch {
		case strings.Contains(strings.ToLower(tool.RelevanceAssessment), "highly relevant"):
			high++
		case strings.Contains(strings.ToLower(tool.RelevanceAssessment), "moderately relevant"):
			moderate++
		}
	}

	return &actionResult{
		Action:               "declare_capabilities",
		SessionID:            st.ID,
		Status:               statusSuccess,
		SuggestedNextActions: []string{"define_success_and_standards"},
		CompletionGuidance: fmt.Sprintf(
			"Declared %d tools (%d highly relevant, %d moderately relevant). "+
				"Define success metrics and coding standards with define_success_and_standards next.",
			len(st.Capabilities), high, moderate),
	}
}

func defineSuccessAndStandards(st *State, args *arguments) *actionResult {
	if len(args.SuccessMetrics) == 0 || len(args.CodingStandards) == 0 {
		return &actionResult{
			Action:               "define_success_and_standards",
			SessionID:            st.ID,
			Status:               statusTemplate,
			SuggestedNextActions: []string{"define_success_and_standards"},
			CompletionGuidance: "Provide both success_metrics (measurable completion criteria) and " +
				"coding_standards (quality and style rules). Both arrays are required and will be " +
				"surfaced during every execution step.",
		}
	}

	st.SuccessMetrics = append([]string(nil), args.SuccessMetrics...)
	st.CodingStandards = append([]string(nil), args.CodingStandards...)
	if st.Stage < StageStandardsDefined {
		st.Stage = StageStandardsDefined
	}

	return &actionResult{
		Action:               "define_success_and_standards",
		SessionID:            st.ID,
		Status:               statusSuccess,
		SuggestedNextActions: []string{"create_tasklist"},
		CompletionGuidance: fmt.Sprintf(
			"Recorded %d success metrics and %d coding standards. Define your implementation tasks with create_tasklist next.",
			len(st.SuccessMetrics), len(st.CodingStandards)),
	}
}

// forbiddenTaskKeywords mark tasks that belong outside the implementation
// workflow; matching tasks are dropped from the tasklist.
var forbiddenTaskKeywords = []string{"test", "validate", "verify", "document", "docs"}

func createTasklist(st *State, args *arguments) *actionResult {
	if len(args.Tasklist) == 0 {
		return &actionResult{
			Action:               "create_tasklist",
			SessionID:            st.ID,
			Status:               statusTemplate,
			SuggestedNextActions: []string{"create_tasklist"},
			CompletionGuidance: "Formalize your plan into a tasklist of implementation-only tasks. " +
				"Do not include testing, validation, or documentation tasks. " +
				`Example: {"action":"create_tasklist","denoised_plan":"...","tasklist":[{"description":"Implement CSV reading logic"}]}`,
		}
	}

	var tasks []*Task
	var dropped []string
	for i, spec := range args.Tasklist {
		description := spec.Description
		if description == "" {
			description = fmt.Sprintf("Unnamed Task %d", i+1)
		}
		if containsAny(strings.ToLower(description), forbiddenTaskKeywords) {
			dropped = append(dropped, description)
			continue
		}
		tasks = append(tasks, newTask(description))
	}

	st.Tasks = tasks
	st.Plan = args.Plan
	st.Stage = StageTasklistCreated

	guidance := fmt.Sprintf("Tasklist created with %d tasks.", len(tasks))
	if len(dropped) > 0 {
		guidance += fmt.Sprintf(" Dropped %d tasks related to testing, validation, or documentation: %s.",
			len(dropped), strings.Join(dropped, "; "))
	}
	guidance += " Assign your declared tools to each task's planning and execution phases with map_capabilities next."

	return &actionResult{
		Action:               "create_tasklist",
		SessionID:            st.ID,
		Status:               statusSuccess,
		TasksCreated:         len(tasks),
		SuggestedNextActions: []string{"map_capabilities"},
		CompletionGuidance:   guidance,
	}
}

func mapCapabilities(st *State, args *arguments) *actionResult {
	if len(st.Capabilities) == 0 {
		return &actionResult{
			Action:               "map_capabilities",
			SessionID:            st.ID,
			Status:               statusGuidance,
			SuggestedNextActions: []string{"declare_capabilities"},
			CompletionGuidance:   "No capabilities declared. Use declare_capabilities first.",
		}
	}
	if len(args.TaskMappings) == 0 {
		var names []string
		for _, tool := range st.Capabilities {
			names = append(names, tool.Name)
		}
		var taskLines []string
		for _, t := range st.Tasks {
			taskLines = append(taskLines, fmt.Sprintf("%s (ID: %s)", t.Description, t.ID))
		}
		return &actionResult{
			Action:               "map_capabilities",
			SessionID:            st.ID,
			Status:               statusTemplate,
			SuggestedNextActions: []string{"map_capabilities"},
			CompletionGuidance: fmt.Sprintf(
				"Assign tools to the planning and execution phases of each task via task_mappings. "+
					"Tasks: %s. Tools: %s. Each assignment needs tool_name and usage_purpose.",
				strings.Join(taskLines, "; "), strings.Join(names, ", ")),
		}
	}

	mapped := 0
	for _, mapping := range args.TaskMappings {
		task := st.findTask(mapping.TaskID)
		if task == nil {
			continue
		}
		if mapping.Planning != nil {
			task.Planning.Tools = mapping.Planning.tools()
		}
		if mapping.Execution != nil {
			task.Execution.Tools = mapping.Execution.tools()
		}
		mapped++
	}

	if st.Stage < StageCapabilitiesMapped {
		st.Stage = StageCapabilitiesMapped
	}

	return &actionResult{
		Action:               "map_capabilities",
		SessionID:            st.ID,
		Status:               statusSuccess,
		MappingCompleted:     true,
		SuggestedNextActions: []string{"execute_next"},
		CompletionGuidance: fmt.Sprintf(
			"Capabilities mapped for %d tasks. Call execute_next for guidance on the first task, "+
				"do the work, then call mark_complete to progress. Repeat until all tasks are finished.",
			mapped),
	}
}

func executeNext(st *State) (*actionResult, *progressEvent) {
	if st.Stage == StageCapabilitiesMapped {
		st.Stage = StageExecuting
	}

	task := st.nextPending()
	if task == nil {
		return &actionResult{
			Action:               "execute_next",
			SessionID:            st.ID,
			Status:               statusCompleted,
			SuggestedNextActions: []string{"end_session"},
			CompletionGuidance:   "All tasks completed. Use end_session to finalize.",
		}, nil
	}

	phase := task.phase()
	var b strings.Builder
	fmt.Fprintf(&b, "Execute task: %s. Phase: %s. Objective: %s.", task.Description, task.CurrentPhase, phase.Description)
	if len(phase.Tools) > 0 {
		b.WriteString(" Tools for this phase:")
		for _, tool := range phase.Tools {
			fmt.Fprintf(&b, " %s (%s);", tool.ToolName, tool.UsagePurpose)
		}
	}
	if len(st.SuccessMetrics) > 0 {
		b.WriteString(" Success metrics: " + strings.Join(st.SuccessMetrics, "; ") + ".")
	}
	if len(st.CodingStandards) > 0 {
		b.WriteString(" Coding standards: " + strings.Join(st.CodingStandards, "; ") + ".")
	}
	b.WriteString(" Perform the work for this phase, then call mark_complete. " +
		"If you are stuck, pause with collaboration_request.")

	result := &actionResult{
		Action:                 "execute_next",
		SessionID:              st.ID,
		Status:                 statusSuccess,
		CurrentTaskID:          task.ID,
		CurrentTaskDescription: task.Description,
		CurrentPhase:           task.CurrentPhase,
		SuggestedNextActions:   []string{"mark_complete", "collaboration_request"},
		CompletionGuidance:     b.String(),
	}
	prog := &progressEvent{
		SessionID:   st.ID,
		TaskID:      task.ID,
		Phase:       task.CurrentPhase,
		Description: task.Description,
	}
	return result, prog
}

func markComplete(st *State) *actionResult {
	task := st.nextPending()
	if task == nil {
		return &actionResult{
			Action:               "mark_complete",
			SessionID:            st.ID,
			Status:               statusCompleted,
			SuggestedNextActions: []string{"end_session"},
			CompletionGuidance:   "All tasks completed. Use end_session to finalize.",
		}
	}

	var guidance string
	if task.CurrentPhase == PhasePlanning {
		task.CurrentPhase = PhaseExecution
		guidance = fmt.Sprintf("Planning phase completed for %q. Call execute_next to begin the execution phase.", task.Description)
	} else {
		task.Status = TaskStatusCompleted
		guidance = fmt.Sprintf("Task completed: %q. Call execute_next to move to the next task.", task.Description)
	}

	return &actionResult{
		Action:               "mark_complete",
		SessionID:            st.ID,
		Status:               statusSuccess,
		TaskID:               task.ID,
		SuggestedNextActions: []string{"execute_next"},
		CompletionGuidance:   guidance,
	}
}

func collaborationRequest(st *State, args *arguments) *actionResult {
	context := args.CollaborationContext
	if context == "" {
		context = "No context provided."
	}
	return &actionResult{
		Action:               "collaboration_request",
		SessionID:            st.ID,
		Status:               statusPaused,
		SuggestedNextActions: []string{"edit_task"},
		CompletionGuidance: fmt.Sprintf(
			"Workflow paused for user collaboration: %s To resume, apply the user's feedback "+
				"with edit_task and continue with execute_next.", context),
	}
}

func editTask(st *State, args *arguments) *actionResult {
	if args.TaskID == "" || args.UpdatedTaskData.empty() {
		return &actionResult{
			Action:               "edit_task",
			SessionID:            st.ID,
			Status:               statusTemplate,
			SuggestedNextActions: []string{"edit_task"},
			CompletionGuidance: "Update a task with task_id and updated_task_data. " +
				`Example: {"action":"edit_task","task_id":"task_123","updated_task_data":{"description":"Updated description"}}`,
		}
	}

	task := st.findTask(args.TaskID)
	if task == nil {
		return &actionResult{
			Action:               "edit_task",
			SessionID:            st.ID,
			Status:               statusError,
			SuggestedNextActions: []string{"get_status"},
			CompletionGuidance:   fmt.Sprintf("Task not found: %s.", args.TaskID),
		}
	}

	patch := args.UpdatedTaskData
	if patch.Description != "" {
		task.Description = patch.Description
		task.Complexity = assessComplexity(patch.Description)
	}
	if patch.Complexity != "" {
		task.Complexity = patch.Complexity
	}

	return &actionResult{
		Action:               "edit_task",
		SessionID:            st.ID,
		Status:               statusSuccess,
		TaskID:               task.ID,
		SuggestedNextActions: []string{"execute_next"},
		CompletionGuidance:   fmt.Sprintf("Task updated: %q.", task.Description),
	}
}

func endSession(st *State) *actionResult {
	total := len(st.Tasks)
	completed := st.completedCount()
	st.Stage = StageEnded

	return &actionResult{
		Action:         "end_session",
		SessionID:      st.ID,
		Status:         statusSuccess,
		TotalTasks:     total,
		CompletedTasks: completed,
		CompletionGuidance: fmt.Sprintf(
			"Session ended. Final summary: %d/%d tasks completed.", completed, total),
	}
}

func getStatus(st *State) *actionResult {
	if st == nil {
		return &actionResult{
			Action:               "get_status",
			Status:               statusNoSession,
			SuggestedNextActions: []string{"create_session"},
			CompletionGuidance:   "No active session. Use create_session to start.",
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	total := len(st.Tasks)
	completed := st.completedCount()
	current := st.nextPending()

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s in stage %q: %d/%d tasks completed.", st.ID, st.Stage, completed, total)
	if current != nil {
		fmt.Fprintf(&b, " Current task: %q (%s phase).", current.Description, current.CurrentPhase)
	}

	result := &actionResult{
		Action:             "get_status",
		SessionID:          st.ID,
		Status:             statusSuccess,
		TotalTasks:         total,
		CompletedTasks:     completed,
		CompletionGuidance: b.String(),
	}
	if current != nil {
		result.CurrentTaskID = current.ID
		result.SuggestedNextActions = []string{"execute_next"}
	} else if st.Stage != StageEnded {
		result.SuggestedNextActions = []string{nextActionFor(st.Stage)}
	}
	return result
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
