// Package broadcast fans engine events out to live subscribers. The engine
// only publishes; connection management of subscribers lives elsewhere.
package broadcast

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"shelter-engine/pkg/errors"
)

// Level is the severity of a log event
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEvent is a line of the real-time engine log stream
type LogEvent struct {
	Level     Level                  `json:"level" cbor:"1,keyasint"`
	Service   string                 `json:"service" cbor:"2,keyasint"`
	Message   string                 `json:"message" cbor:"3,keyasint"`
	Timestamp time.Time              `json:"timestamp" cbor:"4,keyasint"`
	Data      map[string]interface{} `json:"data,omitempty" cbor:"5,keyasint,omitempty"`
}

// CommandEvent reports the outcome of one control-path command
type CommandEvent struct {
	LogID     string    `json:"log_id,omitempty" cbor:"1,keyasint,omitempty"`
	SiteID    string    `json:"site_id" cbor:"2,keyasint"`
	DeviceID  string    `json:"device_id" cbor:"3,keyasint"`
	UnitID    string    `json:"unit_id" cbor:"4,keyasint"`
	Action    string    `json:"action" cbor:"5,keyasint"`
	Status    string    `json:"status" cbor:"6,keyasint"`
	Value     string    `json:"value,omitempty" cbor:"7,keyasint,omitempty"`
	Error     string    `json:"error,omitempty" cbor:"8,keyasint,omitempty"`
	Timestamp time.Time `json:"timestamp" cbor:"9,keyasint"`
}

// Sink accepts engine events
type Sink interface {
	PublishLog(ctx context.Context, event LogEvent) error
	PublishCommand(ctx context.Context, event CommandEvent) error
}

// NewLogEvent stamps a log event with the current time
func NewLogEvent(level Level, service, message string, data map[string]interface{}) LogEvent {
	return LogEvent{Level: level, Service: service, Message: message, Timestamp: time.Now(), Data: data}
}

// NullSink drops every event
type NullSink struct{}

// PublishLog implements Sink
func (NullSink) PublishLog(context.Context, LogEvent) error { return nil }

// PublishCommand implements Sink
func (NullSink) PublishCommand(context.Context, CommandEvent) error { return nil }

// MultiSink sends events to every configured sink
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink publishing to all of sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// PublishLog implements Sink. Every sink is attempted; failures are joined.
func (m *MultiSink) PublishLog(ctx context.Context, event LogEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishLog(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// PublishCommand implements Sink
func (m *MultiSink) PublishCommand(ctx context.Context, event CommandEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishCommand(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Diagnostics adapts a Sink to the error handler's diagnostic publisher,
// turning each diagnostic into an error-level log event
type Diagnostics struct {
	Sink    Sink
	Service string
}

// PublishDiagnostic implements errors.DiagnosticPublisher
func (d Diagnostics) PublishDiagnostic(ctx context.Context, code int, message string) error {
	return d.Sink.PublishLog(ctx, NewLogEvent(LevelError, d.Service,
		fmt.Sprintf("diagnostic %d: %s", code, message), map[string]interface{}{"code": code}))
}

var (
	_ Sink                       = NullSink{}
	_ Sink                       = (*MultiSink)(nil)
	_ errors.DiagnosticPublisher = Diagnostics{}
)
