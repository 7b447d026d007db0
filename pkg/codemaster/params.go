package codemaster

import (
	"bytes"
	"encoding/json"
)

// arguments is the decoded argument object of a codemaster tool call. List
// and object fields tolerate being double-encoded as JSON strings, which
// some MCP clients produce when serializing structured parameters.
type arguments struct {
	Action               string       `json:"action"`
	SessionName          string       `json:"session_name"`
	AvailableTools       toolList     `json:"available_tools"`
	SuccessMetrics       stringList   `json:"success_metrics"`
	CodingStandards      stringList   `json:"coding_standards"`
	Tasklist             taskSpecList `json:"tasklist"`
	TaskMappings         mappingList  `json:"task_mappings"`
	Plan                 string       `json:"denoised_plan"`
	CollaborationContext string       `json:"collaboration_context"`
	TaskID               string       `json:"task_id"`
	UpdatedTaskData      taskPatch    `json:"updated_task_data"`
}

// TaskSpec is one entry of the tasklist argument.
type TaskSpec struct {
	Description string `json:"description"`
}

// PhaseMapping carries the tool assignments for one phase of a task.
type PhaseMapping struct {
	BuiltinTools []ToolAssignment `json:"assigned_builtin_tools"`
	MCPTools     []ToolAssignment `json:"assigned_mcp_tools"`
}

// tools returns all assignments of the phase in declaration order.
func (m *PhaseMapping) tools() []ToolAssignment {
	if m == nil {
		return nil
	}
	return append(append([]ToolAssignment{}, m.BuiltinTools...), m.MCPTools...)
}

// TaskMapping assigns tools to the phases of one task.
type TaskMapping struct {
	TaskID    string        `json:"task_id"`
	Planning  *PhaseMapping `json:"planning_phase"`
	Execution *PhaseMapping `json:"execution_phase"`
}

// unquote unwraps one level of JSON string encoding. It reports whether the
// input was a string whose contents should be decoded again.
func unquote(data []byte) ([]byte, bool) {
	if len(data) == 0 || data[0] != '"' {
		return data, false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return data, false
	}
	return bytes.TrimSpace([]byte(s)), true
}

var jsonNull = []byte("null")

func decodeSlice[T any](data []byte, dst *[]T) error {
	if bytes.Equal(data, jsonNull) {
		return nil
	}
	if inner, ok := unquote(data); ok {
		data = inner
	}
	return json.Unmarshal(data, dst)
}

type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	return decodeSlice(data, (*[]string)(l))
}

type toolList []ToolDeclaration

func (l *toolList) UnmarshalJSON(data []byte) error {
	return decodeSlice(data, (*[]ToolDeclaration)(l))
}

type taskSpecList []TaskSpec

func (l *taskSpecList) UnmarshalJSON(data []byte) error {
	return decodeSlice(data, (*[]TaskSpec)(l))
}

type mappingList []TaskMapping

func (l *mappingList) UnmarshalJSON(data []byte) error {
	return decodeSlice(data, (*[]TaskMapping)(l))
}

// taskPatch is the updated_task_data argument of edit_task.
type taskPatch struct {
	Description string `json:"description"`
	Complexity  string `json:"complexity_level"`
}

func (p *taskPatch) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		return nil
	}
	if inner, ok := unquote(data); ok {
		data = inner
	}
	type plain taskPatch
	return json.Unmarshal(data, (*plain)(p))
}

func (p taskPatch) empty() bool {
	return p.Description == "" && p.Complexity == ""
}
