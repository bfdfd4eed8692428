// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcphost

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// stderrHighWater bounds the drain's buffers; beyond it the oldest lines
// are dropped. A verbose child must never block on a full stderr pipe while
// the session is blocked reading stdout.
const stderrHighWater = 1000

// harvestPollInterval is the sleep between polls inside Harvest.
const harvestPollInterval = 10 * time.Millisecond

// A stderrDrain continuously consumes a child's stderr line by line. Lines
// accumulate in a bounded buffer until harvested; after EOF the concatenated
// tail remains available once so that late consumers still see the child's
// diagnostics after the producer has exited.
type stderrDrain struct {
	serverID string
	logger   *slog.Logger

	mu            sync.Mutex
	pending       []string // harvested-and-cleared by Harvest
	history       []string // everything seen, capped at stderrHighWater
	completed     bool
	tailDelivered bool
}

// newStderrDrain starts the drain goroutine over r and returns immediately.
func newStderrDrain(serverID string, r io.Reader, logger *slog.Logger) *stderrDrain {
	d := &stderrDrain{serverID: serverID, logger: logger}
	go d.run(r)
	return d
}

func (d *stderrDrain) run(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		d.logger.Debug("mcp stderr", "server", d.serverID, "line", line)
		d.mu.Lock()
		d.pending = appendCapped(d.pending, line)
		d.history = appendCapped(d.history, line)
		d.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		d.logger.Debug("stderr read error", "server", d.serverID, "err", err)
	}
	d.mu.Lock()
	d.completed = true
	d.mu.Unlock()
}

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > stderrHighWater {
		lines = lines[len(lines)-stderrHighWater:]
	}
	return lines
}

// Harvest returns buffered stderr lines joined by newlines, polling for up
// to timeout when nothing is buffered yet. After the producer has exited it
// returns the full tail exactly once; thereafter, and whenever nothing is
// available, it reports ok = false. Harvest never blocks the producer.
func (d *stderrDrain) Harvest(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if len(d.pending) > 0 {
			out := strings.Join(d.pending, "\n")
			d.pending = nil
			d.mu.Unlock()
			return out, true
		}
		if d.completed {
			if !d.tailDelivered && len(d.history) > 0 {
				d.tailDelivered = true
				out := strings.Join(d.history, "\n")
				d.mu.Unlock()
				return out, true
			}
			d.mu.Unlock()
			return "", false
		}
		d.mu.Unlock()
		if !time.Now().Before(deadline) {
			return "", false
		}
		time.Sleep(harvestPollInterval)
	}
}
