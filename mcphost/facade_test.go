// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcphost

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/encoding/json"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	r := NewRegistry(nil)
	t.Cleanup(func() { r.Close() })
	return NewFacade(r, &FacadeOptions{PluginName: "mcp-host-test", Version: "0.1.0"})
}

func TestDispatchHealthCheck(t *testing.T) {
	f := newTestFacade(t)
	raw, err := f.Dispatch(CommandHealthCheck, nil)
	if err != nil {
		t.Fatalf("Dispatch(health_check) failed: %v", err)
	}
	var got HealthCheckResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	want := HealthCheckResponse{
		Status:      "ok",
		Version:     "0.1.0",
		PluginName:  "mcp-host-test",
		Initialized: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("health check mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchConnectListExecuteDisconnect(t *testing.T) {
	f := newTestFacade(t)
	command, args := helperCommand("ok")

	payload, err := json.Marshal(ConnectServerRequest{ServerID: "s", Command: command, Args: args})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := f.Dispatch(CommandConnectServer, payload)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if want := "Successfully connected to server: s"; msg != want {
		t.Errorf("connect message = %q, want %q", msg, want)
	}

	raw, err = f.Dispatch(CommandGetConnectionStatus, nil)
	if err != nil {
		t.Fatalf("get_connection_statuses failed: %v", err)
	}
	var statuses []ConnectionInfo
	if err := json.Unmarshal(raw, &statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].ServerID != "s" {
		t.Errorf("statuses = %+v, want one entry for s", statuses)
	}

	raw, err = f.Dispatch(CommandListTools, []byte(`{"server_id":"s"}`))
	if err != nil {
		t.Fatalf("list_tools failed: %v", err)
	}
	var tools ListToolsResult
	if err := json.Unmarshal(raw, &tools); err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v, want the echo tool", tools.Tools)
	}

	raw, err = f.Dispatch(CommandExecuteTool,
		[]byte(`{"server_id":"s","tool_name":"echo","arguments":{"message":"Hello, World!"}}`))
	if err != nil {
		t.Fatalf("execute_tool failed: %v", err)
	}
	var execResp ExecuteToolResponse
	if err := json.Unmarshal(raw, &execResp); err != nil {
		t.Fatal(err)
	}
	if execResp.DurationMs < 0 {
		t.Errorf("duration_ms = %d, want >= 0", execResp.DurationMs)
	}
	if !strings.Contains(string(execResp.Result), "Echo: Hello, World!") {
		t.Errorf("result = %s, want the echoed text", execResp.Result)
	}

	raw, err = f.Dispatch(CommandDisconnectServer, []byte(`{"server_id":"s"}`))
	if err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if want := "Successfully disconnected from server: s"; msg != want {
		t.Errorf("disconnect message = %q, want %q", msg, want)
	}
}

func TestDispatchConnectFailureRendersStructuredError(t *testing.T) {
	f := newTestFacade(t)
	payload := []byte(`{"server_id":"s","command":"this-command-does-not-exist-12345","args":[]}`)
	_, err := f.Dispatch(CommandConnectServer, payload)
	if err == nil {
		t.Fatal("connect against a missing binary succeeded")
	}
	text := err.Error()
	if !strings.HasPrefix(text, "Failed to connect: ") {
		t.Errorf("error = %q, want the Failed to connect prefix", text)
	}
	if !strings.Contains(text, "[COMMAND:CMD_NOT_FOUND]") {
		t.Errorf("error = %q, want the rendered category and code", text)
	}
	if !strings.Contains(text, "Suggestions:") {
		t.Errorf("error = %q, want rendered suggestions", text)
	}
}

func TestDispatchUnknownToolErrorMentionsWireCode(t *testing.T) {
	f := newTestFacade(t)
	command, args := helperCommand("ok")
	payload, _ := json.Marshal(ConnectServerRequest{ServerID: "s", Command: command, Args: args})
	if _, err := f.Dispatch(CommandConnectServer, payload); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	// Unknown tool: the wire error surfaces with its JSON-RPC error code.
	_, err := f.Dispatch(CommandExecuteTool,
		[]byte(`{"server_id":"s","tool_name":"unknown","arguments":{}}`))
	if err == nil {
		t.Fatal("execute_tool for an unknown tool succeeded")
	}
	if !strings.Contains(err.Error(), "-32602") {
		t.Errorf("error = %q, want the wire error code", err)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.Dispatch("plugin_frobnicate", []byte(`{}`))
	if err == nil {
		t.Fatal("unknown command succeeded")
	}
	if !strings.Contains(err.Error(), "CONFIG_ERROR") {
		t.Errorf("error = %q, want a configuration error", err)
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.Dispatch(CommandConnectServer, []byte(`{"server_id":`))
	if err == nil {
		t.Fatal("malformed payload succeeded")
	}
	if !strings.Contains(err.Error(), "CONFIG_ERROR") {
		t.Errorf("error = %q, want a configuration error", err)
	}
}

func TestDispatchListToolsUnknownServer(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.Dispatch(CommandListTools, []byte(`{"server_id":"ghost"}`))
	if err == nil {
		t.Fatal("list_tools for an unknown server succeeded")
	}
	want := fmt.Sprintf("Failed to list tools: %s", "[CONNECTION:NO_PROCESS]")
	if !strings.HasPrefix(err.Error(), want) {
		t.Errorf("error = %q, want prefix %q", err, want)
	}
}
