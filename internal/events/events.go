// Package events provides the side-effect-only observability channel every
// state change in the boarding workflow reports to.
package events

import (
	"time"

	"shuttle-service/internal/logger"
)

// Event names emitted by the boarding workflow.
const (
	EventBlocked       = "ui:blocked"
	EventScanStart     = "scan:start"
	EventScanResult    = "scan:result"
	EventAcceptClicked = "accept:clicked"
	EventRejectClicked = "reject:clicked"
	EventReturnClicked = "return:clicked"
)

// Sink receives structured audit events. Emit is best-effort and never
// fails; implementations stamp each event with a capture timestamp.
type Sink interface {
	Emit(name string, details map[string]any)
}

// LogSink writes events to the service logger.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithTag("Event")}
}

func (s *LogSink) Emit(name string, details map[string]any) {
	s.log.Infof("%s at %s: %v", name, time.Now().Format(time.RFC3339), details)
}

// Discard is a Sink that drops everything. Useful for tests and for
// running without an observability backend.
type Discard struct{}

func (Discard) Emit(string, map[string]any) {}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(name string, details map[string]any) {
	for _, s := range m {
		s.Emit(name, details)
	}
}
