package codemaster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/exp/jsonrpc2"

	"github.com/codemaster-ai/codemaster/pkg/logger"
	"github.com/codemaster-ai/codemaster/pkg/transport/session"
)

const (
	// ServerName identifies this server in initialize responses.
	ServerName = "Codemaster"

	// ToolName is the single tool registered with clients.
	ToolName = "codemaster"

	// protocolVersion is offered when the client does not name one.
	protocolVersion = "2025-03-26"
)

// toolDescription is surfaced by tools/list.
const toolDescription = "Structured workflow for agentic coding assistants: " +
	"create_session, declare_capabilities, define_success_and_standards, " +
	"create_tasklist, map_capabilities, execute_next, mark_complete, end_session."

// toolInputSchema describes the codemaster tool's argument object.
var toolInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string"},
    "session_name": {"type": "string"},
    "available_tools": {"type": ["array", "string"]},
    "success_metrics": {"type": ["array", "string"]},
    "coding_standards": {"type": ["array", "string"]},
    "tasklist": {"type": ["array", "string"]},
    "task_mappings": {"type": ["array", "string"]},
    "denoised_plan": {"type": "string"},
    "collaboration_context": {"type": "string"},
    "task_id": {"type": "string"},
    "updated_task_data": {"type": ["object", "string"]}
  },
  "required": ["action"]
}`)

// Invoker is the default tool invoker behind the streamable HTTP transport.
// It answers the MCP handshake methods directly and routes tools/call to the
// codemaster workflow handlers.
type Invoker struct {
	version string
}

// NewInvoker creates the codemaster invoker. version is reported in the
// initialize response.
func NewInvoker(version string) *Invoker {
	if version == "" {
		version = "dev"
	}
	return &Invoker{version: version}
}

// Invoke handles one protocol request. The returned channel carries the
// response frames in order and is closed after the final one; notifications
// yield a nil channel.
func (inv *Invoker) Invoke(
	_ context.Context,
	sess *session.Session,
	req *jsonrpc2.Request,
) (<-chan jsonrpc2.Message, error) {
	switch req.Method {
	case "initialize":
		return respond(req, inv.initializeResult(req))
	case "ping":
		return respond(req, struct{}{})
	case "tools/list":
		return respond(req, toolsListResult())
	case "tools/call":
		return inv.handleToolCall(sess, req)
	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			logger.Debugw("notification received", "method", req.Method)
			return nil, nil
		}
		return nil, fmt.Errorf("unsupported method %q", req.Method)
	}
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

func (inv *Invoker) initializeResult(req *jsonrpc2.Request) initializeResult {
	version := protocolVersion
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil && params.ProtocolVersion != "" {
		version = params.ProtocolVersion
	}
	return initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: serverInfo{Name: ServerName, Version: inv.version},
	}
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func toolsListResult() map[string]any {
	return map[string]any{
		"tools": []toolInfo{{
			Name:        ToolName,
			Description: toolDescription,
			InputSchema: toolInputSchema,
		}},
	}
}

// handleToolCall decodes the call envelope and runs the named workflow
// action. execute_next answers with a progress notification ahead of the
// result frame; everything else answers with the result frame alone.
func (inv *Invoker) handleToolCall(sess *session.Session, req *jsonrpc2.Request) (<-chan jsonrpc2.Message, error) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return nil, fmt.Errorf("decode tools/call params: %w", err)
	}
	if call.Name != ToolName {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}

	var args arguments
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", ToolName, err)
		}
	}

	result, prog := inv.dispatch(sess, &args)
	logger.Debugw("codemaster action handled",
		"action", args.Action, "status", result.Status)

	resp, err := jsonrpc2.NewResponse(req.ID, toolCallResult(result), nil)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", ToolName, err)
	}

	out := make(chan jsonrpc2.Message, 2)
	if prog != nil {
		notif, err := jsonrpc2.NewNotification("notifications/codemaster/progress", prog)
		if err != nil {
			return nil, fmt.Errorf("encode progress notification: %w", err)
		}
		out <- notif
	}
	out <- resp
	close(out)
	return out, nil
}

// progressEvent is the payload of the progress notification emitted ahead of
// an execute_next result.
type progressEvent struct {
	SessionID   string `json:"session_id"`
	TaskID      string `json:"task_id,omitempty"`
	Phase       string `json:"phase,omitempty"`
	Description string `json:"description"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolCallResult wraps an action result as MCP tool-call content.
func toolCallResult(res *actionResult) callResult {
	text, err := json.Marshal(res)
	if err != nil {
		logger.Errorf("Failed to encode action result: %v", err)
		text = []byte(`{"status":"error","completion_guidance":"internal encoding failure"}`)
	}
	return callResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
		IsError: res.Status == statusError,
	}
}

func respond(req *jsonrpc2.Request, result any) (<-chan jsonrpc2.Message, error) {
	resp, err := jsonrpc2.NewResponse(req.ID, result, nil)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", req.Method, err)
	}
	out := make(chan jsonrpc2.Message, 1)
	out <- resp
	close(out)
	return out, nil
}
