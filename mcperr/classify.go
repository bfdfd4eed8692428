// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcperr

import (
	"fmt"
	"strings"
	"time"
)

// Analyze maps a free-form OS or library error string to a structured
// Error. Matching is case-insensitive and ordered; the first match wins.
//
// The order is load-bearing: "invalid json" must reach the protocol arm
// even though "invalid" alone belongs to configuration, so the protocol
// check runs before the configuration check. Do not reorder.
func Analyze(errStr string) *Error {
	lower := strings.ToLower(errStr)

	if strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "command not found") {
		command, ok := extractQuoted(errStr)
		if !ok {
			command = "unknown"
		}
		return CommandNotFound(command)
	}

	if strings.Contains(lower, "permission denied") {
		resource, ok := extractQuoted(errStr)
		if !ok {
			resource = "resource"
		}
		return PermissionDenied(resource)
	}

	if strings.Contains(lower, "timeout") {
		return ConnectionTimeout("server", 5000*time.Millisecond)
	}

	if strings.Contains(lower, "invalid json") ||
		strings.Contains(lower, "protocol") ||
		strings.Contains(lower, "json-rpc") {
		return ProtocolError(errStr)
	}

	if strings.Contains(lower, "database") || strings.Contains(lower, "sqlite") {
		return DatabaseError("operation", errStr)
	}

	if strings.Contains(lower, "config") ||
		strings.Contains(lower, "missing") ||
		strings.Contains(lower, "invalid") {
		return ConfigurationError("field", errStr)
	}

	return SystemError(errStr)
}

// extractQuoted returns the first single-quoted token in s, if any.
func extractQuoted(s string) (string, bool) {
	start := strings.IndexByte(s, '\'')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(s[start+1:], '\'')
	if end < 0 {
		return "", false
	}
	return s[start+1 : start+1+end], true
}

// FormatConnectionError analyzes err and contextualizes command-category
// failures with the server name, returning the display string.
func FormatConnectionError(serverName, err string) string {
	analyzed := Analyze(err)
	if analyzed.Category == Command {
		analyzed.Message = fmt.Sprintf("Failed to connect to '%s': %s", serverName, analyzed.Message)
	}
	return analyzed.Error()
}

// FormatToolExecutionError analyzes err and prefixes the message with the
// tool name, returning the display string.
func FormatToolExecutionError(toolName, err string) string {
	analyzed := Analyze(err)
	analyzed.Message = fmt.Sprintf("Tool '%s': %s", toolName, analyzed.Message)
	return analyzed.Error()
}

// FormatDatabaseError analyzes err and returns the display string.
func FormatDatabaseError(err string) string {
	return Analyze(err).Error()
}

// FormatConfigError analyzes err and returns the display string.
func FormatConfigError(err string) string {
	return Analyze(err).Error()
}
