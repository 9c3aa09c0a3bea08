// Package telemetry defines the event sink the breaker and fallback chain
// emit into. Sinks are fire-and-forget consumers; nothing in this package
// blocks or returns errors to the emitting side.
package telemetry

import (
	"context"
	"log/slog"
)

// Event names carried on the sink. Consumers key dashboards and alerts off
// these, so they are stable strings rather than typed constants.
const (
	EventBreakerStateChange = "breaker_state_change"
	EventAttemptOutcome     = "attempt_outcome"
	EventFallbackPath       = "fallback_path"
	EventResultEmitted      = "result_emitted"
)

// Sink receives structured events. Implementations must not block and must
// not panic; the emitting side calls Emit inline on hot paths.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// Nop discards all events. Useful as a default and in tests.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(string, map[string]any) {}

// LogSink writes events as structured log records.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink returns a sink that logs every event at the given level with
// the event name as the message and the fields as attributes.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Emit implements Sink.
func (s *LogSink) Emit(event string, fields map[string]any) {
	if !s.logger.Enabled(context.Background(), s.level) {
		return
	}
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(context.Background(), s.level, event, attrs...)
}

// Multi fans each event out to every member sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(event string, fields map[string]any) {
	for _, s := range m {
		s.Emit(event, fields)
	}
}
