// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcphost

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/encoding/json"

	"github.com/sublayerapp/mcp-host/mcperr"
)

// Host command names. The names and their payload shapes are the public
// ABI between the host and the supervisor.
const (
	CommandHealthCheck         = "health_check"
	CommandGetConnectionStatus = "get_connection_statuses"
	CommandConnectServer       = "plugin_connect_server"
	CommandDisconnectServer    = "plugin_disconnect_server"
	CommandListTools           = "plugin_list_tools"
	CommandExecuteTool         = "plugin_execute_tool"
)

// HealthCheckResponse is the reply to health_check.
type HealthCheckResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	PluginName  string `json:"plugin_name"`
	Initialized bool   `json:"initialized"`
}

// ConnectServerRequest is the payload of plugin_connect_server.
type ConnectServerRequest struct {
	ServerID string   `json:"server_id"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
}

// DisconnectServerRequest is the payload of plugin_disconnect_server.
type DisconnectServerRequest struct {
	ServerID string `json:"server_id"`
}

// ListToolsRequest is the payload of plugin_list_tools.
type ListToolsRequest struct {
	ServerID string `json:"server_id"`
}

// ExecuteToolRequest is the payload of plugin_execute_tool.
type ExecuteToolRequest struct {
	ServerID  string          `json:"server_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExecuteToolResponse is the reply to plugin_execute_tool.
type ExecuteToolResponse struct {
	Result     json.RawMessage `json:"result"`
	DurationMs int64           `json:"duration_ms"`
}

// FacadeOptions configures a Facade.
type FacadeOptions struct {
	// PluginName and Version are reported by health_check.
	PluginName string
	Version    string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// A Facade is the host-facing dispatcher over a Registry. Each command
// validates its payload, delegates, and renders any structured error into
// its full display string.
type Facade struct {
	registry   *Registry
	pluginName string
	version    string
	logger     *slog.Logger
}

// NewFacade returns a Facade over registry.
func NewFacade(registry *Registry, opts *FacadeOptions) *Facade {
	if opts == nil {
		opts = &FacadeOptions{}
	}
	name := opts.PluginName
	if name == "" {
		name = "mcp-host"
	}
	version := opts.Version
	if version == "" {
		version = clientInfo.Version
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{registry: registry, pluginName: name, version: version, logger: logger}
}

// HealthCheck reports that the supervisor is up.
func (f *Facade) HealthCheck() HealthCheckResponse {
	return HealthCheckResponse{
		Status:      "ok",
		Version:     f.version,
		PluginName:  f.pluginName,
		Initialized: true,
	}
}

// GetConnectionStatuses returns the registry's connection snapshot.
func (f *Facade) GetConnectionStatuses() []ConnectionInfo {
	return f.registry.Statuses()
}

// ConnectServer connects to an MCP server and returns a confirmation
// message, or an error whose text embeds the full displayed failure.
func (f *Facade) ConnectServer(req ConnectServerRequest) (string, error) {
	f.logger.Debug("connect_server", "server", req.ServerID)
	if err := f.registry.Connect(req.ServerID, req.Command, req.Args); err != nil {
		return "", fmt.Errorf("Failed to connect: %s", err)
	}
	return fmt.Sprintf("Successfully connected to server: %s", req.ServerID), nil
}

// DisconnectServer disconnects an MCP server.
func (f *Facade) DisconnectServer(req DisconnectServerRequest) (string, error) {
	f.logger.Debug("disconnect_server", "server", req.ServerID)
	if err := f.registry.Disconnect(req.ServerID); err != nil {
		return "", fmt.Errorf("Failed to disconnect: %s", err)
	}
	return fmt.Sprintf("Successfully disconnected from server: %s", req.ServerID), nil
}

// ListTools returns the raw tools/list result from the server.
func (f *Facade) ListTools(req ListToolsRequest) (json.RawMessage, error) {
	f.logger.Debug("list_tools", "server", req.ServerID)
	result, err := f.registry.ListTools(req.ServerID)
	if err != nil {
		return nil, fmt.Errorf("Failed to list tools: %s", err)
	}
	return result, nil
}

// ExecuteTool runs one tool call and reports its result and duration.
func (f *Facade) ExecuteTool(req ExecuteToolRequest) (*ExecuteToolResponse, error) {
	f.logger.Debug("execute_tool", "server", req.ServerID, "tool", req.ToolName)
	result, elapsed, err := f.registry.ExecuteTool(req.ServerID, req.ToolName, req.Arguments)
	if err != nil {
		return nil, fmt.Errorf("Failed to execute tool: %s", err)
	}
	return &ExecuteToolResponse{Result: result, DurationMs: elapsed}, nil
}

// Dispatch is the wire entry point: it routes a command name plus a JSON
// payload to the matching typed method and marshals the success value. The
// returned error's text is the complete displayable failure. A panicking
// command is recovered into a SYSTEM_ERROR; no panic crosses this boundary.
func (f *Facade) Dispatch(command string, payload []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in command", "command", command, "panic", r)
			result, err = nil, errors.New(mcperr.SystemError(fmt.Sprintf("panic in %s: %v", command, r)).Error())
		}
	}()

	if len(payload) == 0 {
		payload = []byte("{}")
	}

	switch command {
	case CommandHealthCheck:
		return json.Marshal(f.HealthCheck())

	case CommandGetConnectionStatus:
		return json.Marshal(f.GetConnectionStatuses())

	case CommandConnectServer:
		var req ConnectServerRequest
		if err := unmarshalPayload(payload, &req); err != nil {
			return nil, err
		}
		msg, err := f.ConnectServer(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(msg)

	case CommandDisconnectServer:
		var req DisconnectServerRequest
		if err := unmarshalPayload(payload, &req); err != nil {
			return nil, err
		}
		msg, err := f.DisconnectServer(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(msg)

	case CommandListTools:
		var req ListToolsRequest
		if err := unmarshalPayload(payload, &req); err != nil {
			return nil, err
		}
		result, err := f.ListTools(req)
		if err != nil {
			return nil, err
		}
		return result, nil

	case CommandExecuteTool:
		var req ExecuteToolRequest
		if err := unmarshalPayload(payload, &req); err != nil {
			return nil, err
		}
		resp, err := f.ExecuteTool(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	default:
		return nil, errors.New(mcperr.ConfigurationError("command",
			fmt.Sprintf("unknown command '%s'", command)).Error())
	}
}

// unmarshalPayload decodes a request payload, rendering malformed input as
// a displayable configuration error.
func unmarshalPayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.New(mcperr.ConfigurationError("request", err.Error()).Error())
	}
	return nil
}
