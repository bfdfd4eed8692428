// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mcphost supervises locally-spawned MCP server processes speaking
// JSON-RPC 2.0 over stdio. A Session owns one child and its three pipes; a
// Registry tracks sessions by server id and publishes lifecycle events; a
// Facade exposes the host command surface.
package mcphost

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"

	"github.com/sublayerapp/mcp-host/mcperr"
)

// clientInfo identifies this supervisor in the initialize handshake.
var clientInfo = Implementation{Name: "mcp-host", Version: "0.1.0"}

// defaultInitializeTimeout bounds the wait for the initialize reply. A miss
// is logged, not fatal: some servers delay their first response.
const defaultInitializeTimeout = 5 * time.Second

// A PendingRequest records a request that has been written but not yet
// matched to a reply or timed out. The table is observational: the reader
// correlates by id on its own, the table exists for diagnostics.
type PendingRequest struct {
	MessageID uint32    `json:"message_id"`
	Method    string    `json:"method"`
	SentAt    time.Time `json:"sent_at"`
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Logger receives debug traces of the wire traffic. If nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// InitializeTimeout bounds the wait for the initialize reply.
	// Defaults to 5 seconds.
	InitializeTimeout time.Duration
}

// A stdoutLine is one unit produced by the stdout pump: a raw line, or the
// error that ended the stream.
type stdoutLine struct {
	text string
	err  error
}

// A Session supervises one MCP server child process. It owns the child
// handle and its three pipes, issues strictly increasing message ids, and
// correlates replies by id over the line-delimited stdout stream.
//
// A Session is single-owner with respect to its pipes: send and read
// operations serialize on an internal mutex, and callers are expected to
// serialize through the Registry. The stderr drain is the only intra-session
// parallelism and never touches stdin or stdout.
//
// A Session is either quiescent (no pipes) or live (all three captured);
// once stopped it cannot be restarted.
type Session struct {
	serverID          string
	logger            *slog.Logger
	initializeTimeout time.Duration

	mu      sync.Mutex // serializes send/read/stop against each other
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	stdinc  io.Closer
	lines   chan stdoutLine // closed by the pump after the final error
	stderr  *stderrDrain
	stopped bool

	reaped chan struct{} // closed once cmd.Wait has returned

	nextID    atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]PendingRequest

	skipLog rate.Sometimes // throttles per-line skip logging for chatty children
}

// NewSession returns a quiescent Session for serverID. Call Start to spawn
// the child.
func NewSession(serverID string, opts *SessionOptions) *Session {
	if opts == nil {
		opts = &SessionOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initTimeout := opts.InitializeTimeout
	if initTimeout <= 0 {
		initTimeout = defaultInitializeTimeout
	}
	return &Session{
		serverID:          serverID,
		logger:            logger,
		initializeTimeout: initTimeout,
		pending:           make(map[uint32]PendingRequest),
		skipLog:           rate.Sometimes{First: 5, Interval: time.Second},
	}
}

// ServerID returns the caller-assigned id this session is keyed by.
func (s *Session) ServerID() string { return s.serverID }

// NextMessageID returns the next JSON-RPC message id. Ids are unique and
// strictly increasing for the lifetime of the session, starting at 0.
func (s *Session) NextMessageID() uint32 {
	return s.nextID.Add(1) - 1
}

func (s *Session) trackRequest(id uint32, method string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending[id] = PendingRequest{MessageID: id, Method: method, SentAt: time.Now()}
}

func (s *Session) completeRequest(id uint32) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	delete(s.pending, id)
}

// PendingRequests returns a snapshot of the in-flight request table.
func (s *Session) PendingRequests() []PendingRequest {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	out := make([]PendingRequest, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// checkNode probes `node --version`. Node-based servers fail fast with an
// actionable error instead of an opaque spawn failure.
func checkNode() (string, error) {
	out, err := exec.Command("node", "--version").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", mcperr.New(mcperr.Command, "NODE_NOT_WORKING", "Node.js is installed but not working properly").
				WithDetails("Node.js command returned non-zero exit status").
				WithSuggestions(
					"Try running 'node --version' in your terminal",
					"Reinstall Node.js from https://nodejs.org/",
					"Reconnect after fixing Node.js",
				)
		}
		return "", mcperr.New(mcperr.Command, "NODE_NOT_FOUND", "Node.js is required but not found").
			WithDetails("Node.js is required to run this MCP server").
			WithSuggestions(
				"Download from: https://nodejs.org/",
				"macOS: brew install node",
				"Ubuntu: sudo apt install nodejs npm",
				"Windows: winget install OpenJS.NodeJS",
				"Reconnect after installing Node.js",
			)
	}
	return strings.TrimSpace(string(out)), nil
}

// startError translates a spawn failure into a structured error keyed by
// the command's language family.
func startError(command string, err error) *mcperr.Error {
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist),
		strings.Contains(lower, "no such file"), strings.Contains(lower, "not found"):
		return mcperr.CommandNotFound(command)
	case errors.Is(err, fs.ErrPermission), strings.Contains(lower, "permission denied"):
		return mcperr.PermissionDenied(fmt.Sprintf("command '%s'", command))
	}
	switch command {
	case "node", "npx":
		return mcperr.New(mcperr.Command, "NODE_START_FAILED",
			fmt.Sprintf("Failed to start Node.js MCP server '%s'", command)).
			WithDetails(err.Error()).
			WithSuggestions(
				"Ensure Node.js is installed and in your PATH",
				"Verify the MCP server script exists and is accessible",
				"Check you have permission to execute the script",
			)
	case "python", "python3":
		return mcperr.New(mcperr.Command, "PYTHON_START_FAILED",
			fmt.Sprintf("Failed to start Python MCP server '%s'", command)).
			WithDetails(err.Error()).
			WithSuggestions(
				"Ensure Python is installed and in your PATH",
				"Install required Python packages",
				"Check you have permission to execute the script",
			)
	default:
		return mcperr.New(mcperr.Command, "COMMAND_START_FAILED",
			fmt.Sprintf("Failed to start MCP server command '%s'", command)).
			WithDetails(err.Error()).
			WithSuggestions(
				fmt.Sprintf("Ensure '%s' is installed and in your PATH", command),
				"Check you have permission to execute the command",
				"Verify all required dependencies are installed",
			)
	}
}

// Start spawns command with args, capturing stdin, stdout and stderr as
// pipes. On success the stderr drain and the stdout line pump are running
// and the session is live. The child inherits the parent environment; PATH
// is consulted for command.
func (s *Session) Start(command string, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return mcperr.SystemError("session has been stopped and cannot be reused")
	}
	if s.cmd != nil {
		return mcperr.SystemError(fmt.Sprintf("session for server %s already started", s.serverID))
	}

	if command == "node" || command == "npx" {
		version, err := checkNode()
		if err != nil {
			return err
		}
		s.logger.Debug("found node", "server", s.serverID, "version", version)
	}

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return startError(command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return startError(command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return startError(command, err)
	}
	if err := cmd.Start(); err != nil {
		s.logger.Debug("spawn failed", "server", s.serverID, "command", command, "err", err)
		return startError(command, err)
	}

	s.cmd = cmd
	s.stdin = bufio.NewWriter(stdin)
	s.stdinc = stdin
	s.stderr = newStderrDrain(s.serverID, stderr, s.logger)
	s.lines = make(chan stdoutLine, 128)
	s.reaped = make(chan struct{})
	go pumpStdout(stdout, s.lines)
	go s.reap()

	s.logger.Debug("mcp process started", "server", s.serverID, "command", command, "args", args, "pid", cmd.Process.Pid)
	return nil
}

// pumpStdout reads lines from the child's stdout into lines until EOF or a
// read error, then delivers the terminal error and closes the channel. The
// correlated reader consumes from the channel so that its deadline holds
// even when the child emits nothing.
func pumpStdout(r io.Reader, lines chan<- stdoutLine) {
	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			lines <- stdoutLine{text: text}
		}
		if err != nil {
			lines <- stdoutLine{err: err}
			close(lines)
			return
		}
	}
}

// reap waits for the child to exit and records the result. It runs once per
// spawned child; Stop and CheckAlive observe it through the reaped channel.
func (s *Session) reap() {
	err := s.cmd.Wait()
	close(s.reaped)
	s.logger.Debug("mcp process exited", "server", s.serverID, "state", s.cmd.ProcessState, "err", err)
}

// Initialize drives the MCP handshake: an initialize request, a bounded
// wait for its reply, then the notifications/initialized notification.
//
// A missing or late initialize reply does not fail the handshake; it is
// logged together with any harvested stderr. Write failures are fatal.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.NextMessageID()
	s.trackRequest(id, methodInitialize)
	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  methodInitialize,
		Params: InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    ClientCapabilities{},
			ClientInfo:      clientInfo,
		},
	}
	if err := s.sendLocked(req); err != nil {
		return err
	}

	if resp, err := s.readLocked(id, s.initializeTimeout); err != nil {
		s.logger.Warn("no initialize response", "server", s.serverID, "err", err)
		if tail, ok := s.harvestLocked(time.Second); ok {
			s.logger.Warn("stderr during initialize", "server", s.serverID, "stderr", tail)
		}
	} else {
		s.logger.Debug("initialize response", "server", s.serverID, "id", resp.ID)
	}

	return s.sendLocked(&Notification{JSONRPC: "2.0", Method: notificationInitialized})
}

// SendMessage serializes v to a single line and writes it, newline
// terminated, to the child's stdin, then flushes.
func (s *Session) SendMessage(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(v)
}

func (s *Session) sendLocked(v any) error {
	if s.stdin == nil {
		return mcperr.New(mcperr.Connection, "NO_STDIN", "MCP process not started or stdin not available").
			WithDetails("Cannot send message to MCP server without stdin pipe").
			WithSuggestions(
				"Ensure the MCP server process is running",
				"Check that the server was started correctly",
				"Try reconnecting to the server",
			)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return mcperr.New(mcperr.Protocol, "JSON_SERIALIZE_FAILED", "Failed to serialize JSON-RPC message").
			WithDetails(err.Error()).
			WithSuggestions(
				"Check message format is valid JSON",
				"Verify message structure follows JSON-RPC spec",
			)
	}
	s.logger.Debug("send", "server", s.serverID, "message", string(data))
	data = append(data, '\n')
	if _, err := s.stdin.Write(data); err != nil {
		return mcperr.New(mcperr.Connection, "WRITE_FAILED", "Failed to write message to MCP process").
			WithDetails(err.Error()).
			WithSuggestions(
				"Check if the MCP server process is still running",
				"Verify the process stdin pipe is not broken",
				"Try reconnecting to the server",
			)
	}
	if err := s.stdin.Flush(); err != nil {
		return mcperr.New(mcperr.Connection, "FLUSH_FAILED", "Failed to flush stdin buffer").
			WithDetails(err.Error()).
			WithSuggestions(
				"Check if the MCP server process is still running",
				"Try reconnecting to the server",
			)
	}
	return nil
}

// ReadResponse reads lines from the child's stdout until it finds a reply
// whose id equals expectedID, dropping everything else: empty lines,
// non-JSON lines, id-less notifications and replies to other ids. It
// returns the matching reply, or a structured error when stdout closes, a
// read fails, or the deadline passes.
func (s *Session) ReadResponse(expectedID uint32, timeout time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(expectedID, timeout)
}

func (s *Session) readLocked(expectedID uint32, timeout time.Duration) (*Response, error) {
	if s.lines == nil {
		return nil, mcperr.New(mcperr.Connection, "NO_STDOUT", "MCP process stdout not available").
			WithDetails("Cannot read response from MCP server without stdout pipe").
			WithSuggestions(
				"Ensure the MCP server process is running",
				"Check that the server was started correctly",
				"Try reconnecting to the server",
			)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	consumed := 0

	for {
		select {
		case line, ok := <-s.lines:
			if !ok || isClosedStream(line.err) {
				return nil, mcperr.New(mcperr.Connection, "STDOUT_CLOSED", "MCP process closed stdout unexpectedly").
					WithDetails("The server terminated the connection").
					WithSuggestions(
						"Check server logs for errors",
						"Verify server configuration is correct",
						"Try reconnecting to the server",
					)
			}
			if line.err != nil {
				return nil, mcperr.New(mcperr.Connection, "READ_FAILED", "Failed to read from MCP process stdout").
					WithDetails(line.err.Error()).
					WithSuggestions(
						"Check if the MCP server process is still running",
						"Verify the process stdout pipe is not broken",
						"Try reconnecting to the server",
					)
			}
			text := strings.TrimSpace(line.text)
			if text == "" {
				continue
			}
			consumed++
			var resp Response
			if err := json.Unmarshal([]byte(text), &resp); err != nil {
				s.skipLog.Do(func() {
					s.logger.Debug("skipping non-JSON stdout line", "server", s.serverID, "line", text, "err", err)
				})
				continue
			}
			// An id-less value is a notification; drop it. Unmarshalling
			// cannot distinguish a missing id from id 0, so probe the raw
			// object for the key.
			if !hasID([]byte(text)) {
				s.skipLog.Do(func() {
					s.logger.Debug("dropping notification", "server", s.serverID, "line", text)
				})
				continue
			}
			if resp.ID != expectedID {
				s.logger.Debug("dropping reply for different id", "server", s.serverID, "got", resp.ID, "want", expectedID)
				continue
			}
			s.completeRequest(expectedID)
			return &resp, nil
		case <-timer.C:
			s.completeRequest(expectedID)
			return nil, mcperr.ConnectionTimeout("MCP server", timeout).
				WithDetails(fmt.Sprintf("Expected response with ID %d but received %d lines with no match", expectedID, consumed))
		}
	}
}

// isClosedStream reports whether err marks the orderly end of the stdout
// stream: EOF, or the pipe closed underneath the pump by process teardown.
func isClosedStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// hasID reports whether raw is a JSON object carrying an "id" member.
func hasID(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["id"]
	return ok
}

// Call issues one correlated request: it allocates an id, tracks it, writes
// the request and waits up to timeout for the matching reply.
func (s *Session) Call(method string, params any, timeout time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.NextMessageID()
	s.trackRequest(id, method)
	req := &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := s.sendLocked(req); err != nil {
		s.completeRequest(id)
		return nil, err
	}
	return s.readLocked(id, timeout)
}

// CheckAlive is a non-blocking probe of the child: alive reports whether it
// is still running, and state carries the exit state once it is not.
func (s *Session) CheckAlive() (alive bool, state *os.ProcessState, err error) {
	if s.cmd == nil {
		return false, nil, nil
	}
	select {
	case <-s.reaped:
		return false, s.cmd.ProcessState, nil
	default:
		return true, nil, nil
	}
}

// HarvestStderr returns stderr buffered by the drain, polling up to timeout
// when nothing is available yet. It reports ok = false when there is
// nothing to harvest, including when the session never spawned.
func (s *Session) HarvestStderr(timeout time.Duration) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.harvestLocked(timeout)
}

func (s *Session) harvestLocked(timeout time.Duration) (string, bool) {
	if s.stderr == nil {
		return "", false
	}
	return s.stderr.Harvest(timeout)
}

// Stop kills the child, reaps it, and drops the pipes. It is idempotent and
// safe on a session that never started. After Stop the session is
// terminated for good; construct a new one to reconnect.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		<-s.reaped
	}
	if s.stdinc != nil {
		_ = s.stdinc.Close()
	}
	if s.lines != nil {
		// Unblock the pump so it can observe the closed pipe and exit.
		go func(ch chan stdoutLine) {
			for range ch {
			}
		}(s.lines)
	}
	s.stdin = nil
	s.stdinc = nil
	s.lines = nil
	s.logger.Debug("mcp process stopped", "server", s.serverID)
}
