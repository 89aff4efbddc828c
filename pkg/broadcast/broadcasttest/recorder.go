// Package broadcasttest provides an in-memory broadcast sink for tests.
package broadcasttest

import (
	"context"
	"strings"
	"sync"

	"shelter-engine/pkg/broadcast"
)

// Recorder keeps every published event
type Recorder struct {
	mu       sync.Mutex
	logs     []broadcast.LogEvent
	commands []broadcast.CommandEvent
}

// PublishLog implements broadcast.Sink
func (r *Recorder) PublishLog(_ context.Context, event broadcast.LogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, event)
	return nil
}

// PublishCommand implements broadcast.Sink
func (r *Recorder) PublishCommand(_ context.Context, event broadcast.CommandEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, event)
	return nil
}

// Logs returns a copy of the recorded log events
func (r *Recorder) Logs() []broadcast.LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.LogEvent(nil), r.logs...)
}

// Commands returns a copy of the recorded command events
func (r *Recorder) Commands() []broadcast.CommandEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.CommandEvent(nil), r.commands...)
}

// HasLog reports whether a log event at level contains substr
func (r *Recorder) HasLog(level broadcast.Level, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.logs {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

var _ broadcast.Sink = (*Recorder)(nil)
