package codemaster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"

	"github.com/codemaster-ai/codemaster/pkg/config"
	"github.com/codemaster-ai/codemaster/pkg/transport/session"
)

// actionRes mirrors the wire shape of an action result for assertions.
type actionRes struct {
	Action               string   `json:"action"`
	SessionID            string   `json:"session_id"`
	Status               string   `json:"status"`
	SuggestedNextActions []string `json:"suggested_next_actions"`
	CompletionGuidance   string   `json:"completion_guidance"`
	TasksCreated         int      `json:"tasks_created"`
	TotalTasks           int      `json:"total_tasks"`
	CompletedTasks       int      `json:"completed_tasks"`
	CurrentTaskID        string   `json:"current_task_id"`
	CurrentPhase         string   `json:"current_phase"`
	TaskID               string   `json:"task_id"`
}

// callAction invokes the codemaster tool and returns the decoded action
// result plus any frames that preceded the response.
func callAction(t *testing.T, inv *Invoker, sess *session.Session, args map[string]any) (actionRes, []jsonrpc2.Message) {
	t.Helper()
	frames := invoke(t, inv, sess, "tools/call", map[string]any{
		"name":      ToolName,
		"arguments": args,
	})
	require.NotEmpty(t, frames)

	var result callResult
	require.NoError(t, json.Unmarshal(resultOf(t, frames[len(frames)-1]), &result))
	require.Len(t, result.Content, 1)
	require.Equal(t, "text", result.Content[0].Type)

	var res actionRes
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &res))
	return res, frames[:len(frames)-1]
}

func workflowSession(t *testing.T) *session.Session {
	t.Helper()
	store := session.NewStore()
	t.Cleanup(store.Stop)
	return store.Create(config.Default())
}

func TestWorkflowRequiresSession(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)

	res, _ := callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	assert.Equal(t, statusGuidance, res.Status)
	assert.Equal(t, []string{"create_session"}, res.SuggestedNextActions)
}

func TestWorkflowStageGating(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)

	res, _ := callAction(t, inv, sess, map[string]any{"action": "create_session"})
	require.Equal(t, statusSuccess, res.Status)

	// Tasklist creation requires declared capabilities and standards first.
	res, _ = callAction(t, inv, sess, map[string]any{
		"action":   "create_tasklist",
		"tasklist": []map[string]any{{"description": "Implement feature"}},
	})
	assert.Equal(t, statusGuidance, res.Status)
	assert.Equal(t, []string{"declare_capabilities"}, res.SuggestedNextActions)
}

func TestWorkflowFullRun(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)

	res, _ := callAction(t, inv, sess, map[string]any{"action": "create_session", "session_name": "demo"})
	require.Equal(t, statusSuccess, res.Status)
	require.NotEmpty(t, res.SessionID)
	workflowID := res.SessionID

	// Empty declarations return the template instead of advancing.
	res, _ = callAction(t, inv, sess, map[string]any{"action": "declare_capabilities"})
	require.Equal(t, statusTemplate, res.Status)

	res, _ = callAction(t, inv, sess, map[string]any{
		"action": "declare_capabilities",
		"available_tools": []map[string]any{
			{"name": "read_file", "description": "Reads files", "relevance_assessment": "Highly relevant"},
			{"name": "edit_file", "description": "Edits files", "relevance_assessment": "Highly relevant"},
		},
	})
	require.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, workflowID, res.SessionID)

	res, _ = callAction(t, inv, sess, map[string]any{
		"action":          "define_success_and_standards",
		"success_metrics": []string{"Feature works end to end"},
		"coding_standards": []string{
			"No hardcoded configuration values",
		},
	})
	require.Equal(t, statusSuccess, res.Status)

	// Test-like tasks are scrubbed from the tasklist.
	res, _ = callAction(t, inv, sess, map[string]any{
		"action": "create_tasklist",
		"tasklist": []map[string]any{
			{"description": "Implement the CSV parser"},
			{"description": "Write tests for the parser"},
			{"description": "Build the JSON output stage"},
		},
	})
	require.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, 2, res.TasksCreated)
	assert.Contains(t, res.CompletionGuidance, "Dropped 1 tasks")

	st := sess.GetData().(*State)
	firstTask := st.Tasks[0].ID

	res, _ = callAction(t, inv, sess, map[string]any{
		"action": "map_capabilities",
		"task_mappings": []map[string]any{{
			"task_id": firstTask,
			"planning_phase": map[string]any{
				"assigned_builtin_tools": []map[string]any{
					{"tool_name": "read_file", "usage_purpose": "Understand existing code"},
				},
			},
			"execution_phase": map[string]any{
				"assigned_builtin_tools": []map[string]any{
					{"tool_name": "edit_file", "usage_purpose": "Modify the parser"},
				},
			},
		}},
	})
	require.Equal(t, statusSuccess, res.Status)

	// execute_next announces the task with a progress frame, then guides the
	// planning phase.
	res, extra := callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	require.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, firstTask, res.CurrentTaskID)
	assert.Equal(t, PhasePlanning, res.CurrentPhase)
	assert.Contains(t, res.CompletionGuidance, "read_file")
	assert.Contains(t, res.CompletionGuidance, "Feature works end to end")
	require.Len(t, extra, 1)
	prog, ok := extra[0].(*jsonrpc2.Request)
	require.True(t, ok)
	assert.Equal(t, "notifications/codemaster/progress", prog.Method)
	assert.Nil(t, prog.ID.Raw(), "progress frame must be a notification")

	res, _ = callAction(t, inv, sess, map[string]any{"action": "mark_complete"})
	require.Equal(t, statusSuccess, res.Status)
	assert.Contains(t, res.CompletionGuidance, "Planning phase completed")

	res, _ = callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	assert.Equal(t, PhaseExecution, res.CurrentPhase)
	assert.Contains(t, res.CompletionGuidance, "edit_file")

	// Finish both tasks: execution of task 1, then both phases of task 2.
	for i := 0; i < 3; i++ {
		res, _ = callAction(t, inv, sess, map[string]any{"action": "mark_complete"})
		require.Equal(t, statusSuccess, res.Status)
		callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	}

	res, _ = callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	require.Equal(t, statusCompleted, res.Status)
	assert.Equal(t, []string{"end_session"}, res.SuggestedNextActions)

	res, _ = callAction(t, inv, sess, map[string]any{"action": "end_session"})
	require.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, 2, res.TotalTasks)
	assert.Equal(t, 2, res.CompletedTasks)

	// The ended session refuses further work.
	res, _ = callAction(t, inv, sess, map[string]any{"action": "execute_next"})
	assert.Equal(t, statusGuidance, res.Status)
	assert.Equal(t, []string{"create_session"}, res.SuggestedNextActions)
}

func TestGetStatusTracksProgress(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)

	res, _ := callAction(t, inv, sess, map[string]any{"action": "get_status"})
	assert.Equal(t, statusNoSession, res.Status)

	callAction(t, inv, sess, map[string]any{"action": "create_session"})
	res, _ = callAction(t, inv, sess, map[string]any{"action": "get_status"})
	assert.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, 0, res.TotalTasks)
	assert.Equal(t, []string{"declare_capabilities"}, res.SuggestedNextActions)
}

func TestCollaborationAndEditTask(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)
	setupTasklist(t, inv, sess)

	res, _ := callAction(t, inv, sess, map[string]any{
		"action":                "collaboration_request",
		"collaboration_context": "Missing API key for service X.",
	})
	assert.Equal(t, statusPaused, res.Status)
	assert.Contains(t, res.CompletionGuidance, "Missing API key")

	st := sess.GetData().(*State)
	taskID := st.Tasks[0].ID

	res, _ = callAction(t, inv, sess, map[string]any{
		"action":            "edit_task",
		"task_id":           taskID,
		"updated_task_data": map[string]any{"description": "Refactor the import pipeline"},
	})
	require.Equal(t, statusSuccess, res.Status)
	assert.Equal(t, "Refactor the import pipeline", st.Tasks[0].Description)
	assert.Equal(t, "architectural", st.Tasks[0].Complexity)

	res, _ = callAction(t, inv, sess, map[string]any{
		"action":            "edit_task",
		"task_id":           "task_missing",
		"updated_task_data": map[string]any{"description": "x"},
	})
	assert.Equal(t, statusError, res.Status)
}

func TestDeclareCapabilitiesRejectsIncompleteTools(t *testing.T) {
	t.Parallel()

	inv := NewInvoker("")
	sess := workflowSession(t)
	callAction(t, inv, sess, map[string]any{"action": "create_session"})

	res, _ := callAction(t, inv, sess, map[string]any{
		"action":          "declare_capabilities",
		"available_tools": []map[string]any{{"name": "read_file"}},
	})
	assert.Equal(t, statusError, res.Status)
	assert.Contains(t, res.CompletionGuidance, "missing a name or description")
}

// setupTasklist drives a session through to a created tasklist.
func setupTasklist(t *testing.T, inv *Invoker, sess *session.Session) {
	t.Helper()
	callAction(t, inv, sess, map[string]any{"action": "create_session"})
	callAction(t, inv, sess, map[string]any{
		"action": "declare_capabilities",
		"available_tools": []map[string]any{
			{"name": "read_file", "description": "Reads files"},
		},
	})
	callAction(t, inv, sess, map[string]any{
		"action":           "define_success_and_standards",
		"success_metrics":  []string{"Done"},
		"coding_standards": []string{"Clean"},
	})
	res, _ := callAction(t, inv, sess, map[string]any{
		"action":   "create_tasklist",
		"tasklist": []map[string]any{{"description": "Implement importer"}},
	})
	require.Equal(t, statusSuccess, res.Status)
}
