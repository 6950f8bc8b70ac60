// Package notify is the user-facing notification boundary. Every terminal
// state of a duplication attempt emits exactly one notification; how it is
// rendered is the sink's business.
package notify

import (
	"sync"

	appLog "caldup/internal/log"
)

// Severity classifies a notification.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
)

// Sink receives user-visible notifications.
type Sink interface {
	Notify(message string, severity Severity)
}

// LogSink renders notifications into the application log.
type LogSink struct{}

func (LogSink) Notify(message string, severity Severity) {
	switch severity {
	case Error:
		appLog.Info("notification", "severity", "error", "message", message)
	default:
		appLog.Info("notification", "severity", string(severity), "message", message)
	}
}

// Collector stores notifications for inspection in tests.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

// Entry is one recorded notification.
type Entry struct {
	Message  string
	Severity Severity
}

func (c *Collector) Notify(message string, severity Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Message: message, Severity: severity})
}

// Entries returns a copy of everything notified so far.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
