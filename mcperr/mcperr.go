// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mcperr defines the structured errors surfaced by the MCP host
// core: a closed set of categories, stable string codes, optional free-form
// details, and user-facing suggestions, plus a heuristic classifier that
// maps opaque error strings onto the taxonomy.
package mcperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// A Category classifies an error into one of eight stable groups.
type Category string

const (
	Connection    Category = "CONNECTION"
	Permission    Category = "PERMISSION"
	Timeout       Category = "TIMEOUT"
	Protocol      Category = "PROTOCOL"
	Command       Category = "COMMAND"
	Configuration Category = "CONFIGURATION"
	Database      Category = "DATABASE"
	System        Category = "SYSTEM"
)

// An Error is a structured error with a category, a stable code, a
// human-readable message, optional details, and actionable suggestions.
// It is a value type: callers build one, possibly enrich it, and hand it
// off; nothing caches or mutates a delivered Error.
type Error struct {
	Category    Category `json:"category"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions"`
}

// New returns an Error with the given category, code and message.
func New(category Category, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// WithDetails sets the details text and returns the receiver for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithSuggestion appends one suggestion and returns the receiver.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// WithSuggestions appends suggestions and returns the receiver.
func (e *Error) WithSuggestions(ss ...string) *Error {
	e.Suggestions = append(e.Suggestions, ss...)
	return e
}

// Error renders the canonical display form:
//
//	[CATEGORY:CODE] message
//	Details: ...
//	Suggestions:
//	• ...
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Details != "" {
		fmt.Fprintf(&sb, "\nDetails: %s", e.Details)
	}
	if len(e.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&sb, "\n• %s", s)
		}
	}
	return sb.String()
}

// CommandNotFound reports that command is not installed or not on PATH.
func CommandNotFound(command string) *Error {
	return New(Command, "CMD_NOT_FOUND", fmt.Sprintf("Command '%s' not found", command)).
		WithDetails(fmt.Sprintf("The command '%s' is not installed or not in your PATH", command)).
		WithSuggestions(
			fmt.Sprintf("Install Node.js if using '%s' or 'npx' commands", command),
			"Check that the command is installed and accessible",
			"Verify your PATH environment variable includes the command location",
		)
}

// PermissionDenied reports that the caller may not access resource.
func PermissionDenied(resource string) *Error {
	return New(Permission, "PERMISSION_DENIED", fmt.Sprintf("Permission denied accessing %s", resource)).
		WithDetails(fmt.Sprintf("You don't have permission to access %s", resource)).
		WithSuggestions(
			"Check file permissions for the resource",
			"Run with appropriate user permissions",
			"Verify you have execute permissions for the command",
		)
}

// ConnectionTimeout reports that target did not answer within timeout.
func ConnectionTimeout(target string, timeout time.Duration) *Error {
	ms := timeout.Milliseconds()
	return New(Timeout, "CONNECTION_TIMEOUT", fmt.Sprintf("Connection to %s timed out after %dms", target, ms)).
		WithDetails(fmt.Sprintf("The server did not respond within %dms", ms)).
		WithSuggestions(
			"Check if the server is running",
			"Verify network connectivity",
			"Try increasing the timeout value",
		)
}

// ProtocolError reports an invalid MCP protocol response.
func ProtocolError(details string) *Error {
	return New(Protocol, "PROTOCOL_ERROR", "Invalid MCP protocol response").
		WithDetails(details).
		WithSuggestions(
			"Verify the server implements MCP protocol correctly",
			"Check server logs for protocol errors",
			"Ensure server and client protocol versions are compatible",
		)
}

// ConfigurationError reports an invalid configuration for field.
func ConfigurationError(field, details string) *Error {
	return New(Configuration, "CONFIG_ERROR", fmt.Sprintf("Invalid configuration for %s", field)).
		WithDetails(details).
		WithSuggestions(
			"Check the configuration format",
			"Verify all required fields are provided",
			"Review configuration examples in documentation",
		)
}

// DatabaseError reports a failed database operation.
func DatabaseError(operation, details string) *Error {
	return New(Database, "DATABASE_ERROR", fmt.Sprintf("Database %s failed", operation)).
		WithDetails(details).
		WithSuggestions(
			"Restart the application to reinitialize database",
			"Check available disk space",
			"Verify database file permissions",
		)
}

// SystemError reports a failed system operation.
func SystemError(details string) *Error {
	return New(System, "SYSTEM_ERROR", "System operation failed").
		WithDetails(details).
		WithSuggestions(
			"Check system resources (memory, disk space)",
			"Verify system permissions",
			"Try restarting the application",
		)
}

// From coerces an arbitrary error to an *Error. A value that already is one
// (possibly wrapped) is returned as is; anything else goes through Analyze.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Analyze(err.Error())
}
