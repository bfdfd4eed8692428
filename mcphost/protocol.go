// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcphost

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/segmentio/encoding/json"
)

// Wire types for the stdio transport: JSON-RPC 2.0, one value per line,
// newline-terminated, UTF-8. The supervisor emits exactly four methods.

// protocolVersion is the MCP protocol version sent in initialize.
const protocolVersion = "2024-11-05"

const (
	methodInitialize        = "initialize"
	methodListTools         = "tools/list"
	methodCallTool          = "tools/call"
	notificationInitialized = "notifications/initialized"
)

// A Request is an id-carrying JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint32 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// A Notification is a JSON-RPC message without an id; no reply is expected.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// A Response is a reply read from the child's stdout. Exactly one of Result
// and Error is set on a well-formed reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint32          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// A WireError is the error object of a JSON-RPC response.
type WireError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// An Implementation describes the name and version of an MCP
// implementation, in initialize's clientInfo and serverInfo.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability set announced at initialize. The
// supervisor announces none; the empty object still goes on the wire.
type ClientCapabilities struct{}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Implementation  `json:"serverInfo"`
}

// A Tool is a tool definition as reported by tools/list.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}
