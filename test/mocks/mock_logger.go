package mocks

import (
	"sync"

	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// LogEntry is one captured log line
type LogEntry struct {
	Level   string
	Message string
	Fields  []ports.Field
}

// Field returns the value logged under key, if any
func (e LogEntry) Field(key string) (interface{}, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MockLogger records every call. Safe for use from watch goroutines.
type MockLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.record("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.record("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.record("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.record("error", msg, fields) }

func (m *MockLogger) record(level, msg string, fields []ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

// Entries returns captured lines at level, or all lines when level is empty
func (m *MockLogger) Entries(level string) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Logged reports whether any level recorded msg
func (m *MockLogger) Logged(msg string) bool {
	for _, e := range m.Entries("") {
		if e.Message == msg {
			return true
		}
	}
	return false
}
