// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	err := New(Command, "TEST_CODE", "Test message")
	if err.Category != Command || err.Code != "TEST_CODE" || err.Message != "Test message" {
		t.Errorf("New() = %+v", err)
	}
	if err.Details != "" {
		t.Errorf("Details = %q, want empty", err.Details)
	}
	if len(err.Suggestions) != 0 {
		t.Errorf("Suggestions = %v, want empty", err.Suggestions)
	}
}

func TestBuilders(t *testing.T) {
	err := New(Command, "TEST_CODE", "Test message").
		WithDetails("Additional details").
		WithSuggestion("Try this fix").
		WithSuggestions("Fix 2", "Fix 3")
	if err.Details != "Additional details" {
		t.Errorf("Details = %q", err.Details)
	}
	want := []string{"Try this fix", "Fix 2", "Fix 3"}
	if diff := cmp.Diff(want, err.Suggestions); diff != "" {
		t.Errorf("Suggestions mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplay(t *testing.T) {
	err := New(Connection, "WRITE_FAILED", "Failed to write message to MCP process").
		WithDetails("broken pipe").
		WithSuggestions("Check if the MCP server process is still running", "Try reconnecting to the server")
	want := "[CONNECTION:WRITE_FAILED] Failed to write message to MCP process\n" +
		"Details: broken pipe\n" +
		"Suggestions:\n" +
		"• Check if the MCP server process is still running\n" +
		"• Try reconnecting to the server"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDisplayMinimal(t *testing.T) {
	err := New(System, "SYSTEM_ERROR", "System operation failed")
	if got, want := err.Error(), "[SYSTEM:SYSTEM_ERROR] System operation failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name         string
		err          *Error
		wantCategory Category
		wantCode     string
		wantInMsg    string
	}{
		{"command not found", CommandNotFound("node"), Command, "CMD_NOT_FOUND", "node"},
		{"permission denied", PermissionDenied("/etc/passwd"), Permission, "PERMISSION_DENIED", "/etc/passwd"},
		{"connection timeout", ConnectionTimeout("localhost:8080", 5*time.Second), Timeout, "CONNECTION_TIMEOUT", "5000ms"},
		{"protocol", ProtocolError("Invalid JSON received"), Protocol, "PROTOCOL_ERROR", "Invalid MCP protocol response"},
		{"configuration", ConfigurationError("timeout", "Value must be positive"), Configuration, "CONFIG_ERROR", "timeout"},
		{"database", DatabaseError("query", "Table not found"), Database, "DATABASE_ERROR", "query"},
		{"system", SystemError("Out of memory"), System, "SYSTEM_ERROR", "System operation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.wantCategory)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
			if !strings.Contains(tt.err.Message, tt.wantInMsg) {
				t.Errorf("Message = %q, want substring %q", tt.err.Message, tt.wantInMsg)
			}
			if len(tt.err.Suggestions) == 0 {
				t.Error("Suggestions is empty")
			}
		})
	}
}

func TestFrom(t *testing.T) {
	structured := ProtocolError("bad frame")
	if got := From(fmt.Errorf("sending: %w", structured)); got != structured {
		t.Errorf("From(wrapped) = %v, want the original *Error", got)
	}
	got := From(errors.New("connection timeout while dialing"))
	if got.Code != "CONNECTION_TIMEOUT" {
		t.Errorf("From(plain).Code = %s, want CONNECTION_TIMEOUT", got.Code)
	}
}
