// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcphost

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"

	"github.com/sublayerapp/mcp-host/mcperr"
)

// Default correlated-read timeouts for the registry operations.
const (
	defaultListToolsTimeout = 5 * time.Second
	defaultCallToolTimeout  = 10 * time.Second
)

// ConnectionInfo is the public-facing record of one tracked connection.
type ConnectionInfo struct {
	ServerID    string   `json:"server_id"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	Status      string   `json:"status"`
	ConnectedAt *int64   `json:"connected_at,omitempty"` // epoch seconds
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Events receives lifecycle events. If nil, events are logged and
	// discarded.
	Events EventSink

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Timeout overrides; zero values default to 5s for initialize and
	// tools/list and 10s for tools/call.
	InitializeTimeout time.Duration
	ListToolsTimeout  time.Duration
	CallToolTimeout   time.Duration
}

// A Registry is a thread-safe keyed store of live sessions and their public
// connection records. It serializes concurrent access, forwards per-session
// operations, and publishes lifecycle events.
//
// One Registry instance is owned by the host and passed to the Facade;
// teardown is Close.
type Registry struct {
	logger            *slog.Logger
	events            EventSink
	initializeTimeout time.Duration
	listToolsTimeout  time.Duration
	callToolTimeout   time.Duration

	// mu guards the two maps only. It is never held across blocking I/O:
	// per-session operations serialize on the session's own mutex with mu
	// released.
	mu       sync.Mutex
	sessions map[string]*Session
	conns    map[string]ConnectionInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts *RegistryOptions) *Registry {
	if opts == nil {
		opts = &RegistryOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:            logger,
		events:            opts.Events,
		initializeTimeout: opts.InitializeTimeout,
		listToolsTimeout:  opts.ListToolsTimeout,
		callToolTimeout:   opts.CallToolTimeout,
	}
	if r.listToolsTimeout <= 0 {
		r.listToolsTimeout = defaultListToolsTimeout
	}
	if r.callToolTimeout <= 0 {
		r.callToolTimeout = defaultCallToolTimeout
	}
	r.sessions = make(map[string]*Session)
	r.conns = make(map[string]ConnectionInfo)
	return r
}

// emit hands ev to the event sink. Delivery failures are logged, never
// returned: events are informational.
func (r *Registry) emit(ev ConnectionEvent) {
	if r.events == nil {
		r.logger.Debug("no event sink, dropping event", "server", ev.ServerID, "status", ev.Status)
		return
	}
	if err := r.events.Emit(TopicConnectionChanged, ev); err != nil {
		r.logger.Warn("failed to emit connection event", "server", ev.ServerID, "err", err)
	}
}

// Connect spawns and initializes a session for serverID running command
// with args, replacing any existing session for the id without emitting an
// event for the replaced one. On success a connected event is emitted. On
// failure freshly-harvested stderr is attached to the error's details and
// no partial state remains.
func (r *Registry) Connect(serverID, command string, args []string) error {
	if serverID == "" {
		return mcperr.ConfigurationError("server_id", "server_id must not be empty")
	}
	r.logger.Debug("connect", "server", serverID, "command", command, "args", args)

	// A stale session for the same id is superseded silently.
	r.silentDisconnect(serverID)

	sess := NewSession(serverID, &SessionOptions{
		Logger:            r.logger,
		InitializeTimeout: r.initializeTimeout,
	})
	if err := sess.Start(command, args); err != nil {
		if tail, ok := sess.HarvestStderr(time.Second); ok {
			if e, isStructured := err.(*mcperr.Error); isStructured {
				e.WithDetails(fmt.Sprintf("Process stderr: %s", tail))
			}
		}
		sess.Stop()
		return err
	}
	if err := sess.Initialize(); err != nil {
		// Give the child a moment to flush its own diagnostics first.
		time.Sleep(500 * time.Millisecond)
		if tail, ok := sess.HarvestStderr(2 * time.Second); ok {
			if e, isStructured := err.(*mcperr.Error); isStructured {
				e.WithDetails(fmt.Sprintf("Process stderr: %s", tail))
			}
		}
		sess.Stop()
		return err
	}

	now := time.Now().Unix()
	r.mu.Lock()
	r.sessions[serverID] = sess
	r.conns[serverID] = ConnectionInfo{
		ServerID:    serverID,
		Command:     command,
		Args:        args,
		Status:      StatusConnected,
		ConnectedAt: &now,
	}
	r.emit(ConnectionEvent{
		ServerID:  serverID,
		Status:    StatusConnected,
		Timestamp: now,
		Command:   command,
		Args:      args,
	})
	r.mu.Unlock()

	return nil
}

// remove takes the session for serverID out of both maps, returning it.
func (r *Registry) remove(serverID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[serverID]
	delete(r.sessions, serverID)
	delete(r.conns, serverID)
	return sess
}

// silentDisconnect removes and stops the session for serverID without
// emitting an event. Used when Connect supersedes a stale entry.
func (r *Registry) silentDisconnect(serverID string) {
	if sess := r.remove(serverID); sess != nil {
		sess.Stop()
		r.logger.Debug("silently stopped superseded session", "server", serverID)
	}
}

// Disconnect removes and stops the session for serverID and emits a
// disconnected event. It is idempotent.
func (r *Registry) Disconnect(serverID string) error {
	if sess := r.remove(serverID); sess != nil {
		sess.Stop()
	}
	r.mu.Lock()
	r.emit(ConnectionEvent{
		ServerID:  serverID,
		Status:    StatusDisconnected,
		Reason:    "User requested disconnection",
		Timestamp: time.Now().Unix(),
	})
	r.mu.Unlock()
	return nil
}

// dropDead removes serverID's state and emits a disconnected event carrying
// reason. Used when an operation discovers the child is gone.
func (r *Registry) dropDead(serverID, reason string) {
	if sess := r.remove(serverID); sess != nil {
		sess.Stop()
	}
	r.mu.Lock()
	r.emit(ConnectionEvent{
		ServerID:  serverID,
		Status:    StatusDisconnected,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
	r.mu.Unlock()
}

// session fetches the live session for serverID, or a NO_PROCESS error.
func (r *Registry) session(serverID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[serverID]
	if sess == nil {
		return nil, mcperr.New(mcperr.Connection, "NO_PROCESS",
			fmt.Sprintf("No active MCP process found for server %s", serverID)).
			WithSuggestions(
				"Ensure the server is connected",
				"Try connecting to the server first",
				"Check that the server ID is correct",
			)
	}
	return sess, nil
}

// probeAlive verifies the child behind sess is still running, translating a
// dead or unqueryable child into the structured error for the operation
// named by reason and publishing the disconnection.
func (r *Registry) probeAlive(sess *Session, reason string) error {
	alive, state, err := sess.CheckAlive()
	if err != nil {
		return mcperr.New(mcperr.System, "STATUS_CHECK_FAILED", "Error checking MCP process status").
			WithDetails(err.Error()).
			WithSuggestions(
				"Try reconnecting to the server",
				"Restart the application if the issue persists",
			)
	}
	if !alive {
		r.dropDead(sess.ServerID(), reason)
		e := mcperr.New(mcperr.Connection, "PROCESS_EXITED",
			fmt.Sprintf("MCP process for server %s has exited", sess.ServerID())).
			WithSuggestions(
				"Check server logs for errors",
				"Verify server configuration is correct",
				"Try reconnecting to the server",
			)
		if state != nil {
			e.WithDetails(fmt.Sprintf("Process exit status: %s", state))
		}
		return e
	}
	return nil
}

// connectionLost reports whether err means the child is gone mid-call.
func connectionLost(err error) bool {
	e, ok := err.(*mcperr.Error)
	return ok && (e.Code == "STDOUT_CLOSED" || e.Code == "PROCESS_EXITED")
}

// ListTools asks serverID for its tool definitions and returns the raw
// result object (typically {"tools": [...]}).
func (r *Registry) ListTools(serverID string) (json.RawMessage, error) {
	sess, err := r.session(serverID)
	if err != nil {
		return nil, err
	}
	const reason = "Process exited during tool listing"
	if err := r.probeAlive(sess, reason); err != nil {
		return nil, err
	}

	resp, err := sess.Call(methodListTools, struct{}{}, r.listToolsTimeout)
	if err != nil {
		if connectionLost(err) {
			r.dropDead(serverID, reason)
		}
		return nil, err
	}
	switch {
	case resp.Error != nil:
		data, _ := json.Marshal(resp.Error)
		return nil, mcperr.ProtocolError(fmt.Sprintf("MCP server returned error: %s", data))
	case resp.Result == nil:
		return nil, mcperr.ProtocolError("Invalid JSON-RPC response: missing result and error")
	}
	return resp.Result, nil
}

// ExecuteTool invokes tool name on serverID with arguments and returns the
// raw result plus the elapsed wall time in milliseconds, measured from just
// before the request was written.
func (r *Registry) ExecuteTool(serverID, name string, arguments json.RawMessage) (json.RawMessage, int64, error) {
	sess, err := r.session(serverID)
	if err != nil {
		return nil, 0, err
	}
	const reason = "Process exited during tool execution"
	if err := r.probeAlive(sess, reason); err != nil {
		return nil, 0, err
	}

	if arguments == nil {
		arguments = json.RawMessage("{}")
	}
	start := time.Now()
	resp, err := sess.Call(methodCallTool, CallToolParams{Name: name, Arguments: arguments}, r.callToolTimeout)
	if err != nil {
		if connectionLost(err) {
			r.dropDead(serverID, reason)
		}
		return nil, 0, err
	}
	elapsed := time.Since(start).Milliseconds()
	switch {
	case resp.Error != nil:
		data, _ := json.Marshal(resp.Error)
		return nil, 0, mcperr.New(mcperr.Protocol, "TOOL_EXECUTION_ERROR",
			fmt.Sprintf("Tool '%s' execution failed", name)).
			WithDetails(fmt.Sprintf("MCP server returned error: %s", data)).
			WithSuggestions(
				"Check the tool parameters are correct",
				"Verify the tool exists on this server",
				"Review server logs for more details",
			)
	case resp.Result == nil:
		return nil, 0, mcperr.ProtocolError("Invalid JSON-RPC response: missing result and error")
	}
	return resp.Result, elapsed, nil
}

// Statuses returns a snapshot of all connection records.
func (r *Registry) Statuses() []ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, info := range r.conns {
		out = append(out, info)
	}
	return out
}

// IsConnected reports whether a session is tracked for serverID.
func (r *Registry) IsConnected(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[serverID]
	return ok
}

// Close stops every session concurrently and clears the registry. No
// events are emitted. Afterwards the registry is empty.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.conns = make(map[string]ConnectionInfo)
	r.mu.Unlock()

	var g errgroup.Group
	for _, sess := range sessions {
		g.Go(func() error {
			sess.Stop()
			return nil
		})
	}
	return g.Wait()
}
