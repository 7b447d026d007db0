// Package codemaster implements the default tool invoker: an MCP server
// surface exposing one tool, codemaster, that walks a coding agent through a
// staged workflow from session creation to task completion.
package codemaster

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Stage is the workflow position of one codemaster session. Actions are
// gated on the stage so an agent cannot, for example, map capabilities it
// never declared.
type Stage int

const (
	// StageCreated means the workflow session exists but nothing has been
	// declared yet.
	StageCreated Stage = iota
	// StageCapabilitiesDeclared means the tool inventory is recorded.
	StageCapabilitiesDeclared
	// StageStandardsDefined means success metrics and coding standards are set.
	StageStandardsDefined
	// StageTasklistCreated means the task breakdown exists.
	StageTasklistCreated
	// StageCapabilitiesMapped means tools are assigned to task phases.
	StageCapabilitiesMapped
	// StageExecuting means the agent is working through the tasks.
	StageExecuting
	// StageEnded is terminal.
	StageEnded
)

// String returns the snake_case name of the stage.
func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "session_created"
	case StageCapabilitiesDeclared:
		return "capabilities_declared"
	case StageStandardsDefined:
		return "standards_defined"
	case StageTasklistCreated:
		return "tasklist_created"
	case StageCapabilitiesMapped:
		return "capabilities_mapped"
	case StageExecuting:
		return "executing"
	case StageEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Task lifecycle values.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"

	PhasePlanning  = "planning"
	PhaseExecution = "execution"
)

// ToolDeclaration is one entry in the agent's declared tool inventory.
type ToolDeclaration struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	RelevanceAssessment string `json:"relevance_assessment,omitempty"`
}

// ToolAssignment binds a declared tool to one phase of a task.
type ToolAssignment struct {
	ToolName        string   `json:"tool_name"`
	UsagePurpose    string   `json:"usage_purpose"`
	SpecificActions []string `json:"specific_actions,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	Priority        string   `json:"priority,omitempty"`
}

// Phase is one half of a task: planning or execution, with its assigned
// tools.
type Phase struct {
	Name        string           `json:"phase_name"`
	Description string           `json:"description"`
	Tools       []ToolAssignment `json:"assigned_tools,omitempty"`
}

// Task is one unit of implementation work. Every task moves through its
// planning phase before its execution phase.
type Task struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	CurrentPhase string `json:"current_phase"`
	Complexity   string `json:"complexity_level"`
	Planning     *Phase `json:"planning_phase,omitempty"`
	Execution    *Phase `json:"execution_phase,omitempty"`
}

func newTask(description string) *Task {
	return &Task{
		ID:           "task_" + uuid.NewString(),
		Description:  description,
		Status:       TaskStatusPending,
		CurrentPhase: PhasePlanning,
		Complexity:   assessComplexity(description),
		Planning:     &Phase{Name: PhasePlanning, Description: "Plan for: " + description},
		Execution:    &Phase{Name: PhaseExecution, Description: "Execution of: " + description},
	}
}

// phase returns the task's current phase object.
func (t *Task) phase() *Phase {
	if t.CurrentPhase == PhaseExecution {
		return t.Execution
	}
	return t.Planning
}

// assessComplexity buckets a task by keywords in its description.
func assessComplexity(description string) string {
	desc := strings.ToLower(description)
	for _, w := range []string{"system", "architecture", "framework", "integrate", "refactor"} {
		if strings.Contains(desc, w) {
			return "architectural"
		}
	}
	for _, w := range []string{"implement", "create", "build", "develop", "add", "modify"} {
		if strings.Contains(desc, w) {
			return "complex"
		}
	}
	return "simple"
}

// State is the per-session workflow record, attached to the transport
// session. All mutation happens under its lock so concurrent POSTs on the
// same session stay consistent.
type State struct {
	mu sync.Mutex

	ID              string
	Name            string
	Stage           Stage
	Capabilities    []ToolDeclaration
	SuccessMetrics  []string
	CodingStandards []string
	Plan            string
	Tasks           []*Task
}

func newState(name string) *State {
	if name == "" {
		name = "Default Session"
	}
	return &State{
		ID:    "session_" + uuid.NewString(),
		Name:  name,
		Stage: StageCreated,
	}
}

// nextPending returns the first task that is not completed, or nil.
// Callers hold the state lock.
func (st *State) nextPending() *Task {
	for _, t := range st.Tasks {
		if t.Status == TaskStatusPending {
			return t
		}
	}
	return nil
}

// completedCount returns how many tasks are done. Callers hold the state
// lock.
func (st *State) completedCount() int {
	n := 0
	for _, t := range st.Tasks {
		if t.Status == TaskStatusCompleted {
			n++
		}
	}
	return n
}

func (st *State) findTask(id string) *Task {
	for _, t := range st.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
