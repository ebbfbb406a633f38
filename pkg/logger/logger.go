// Package logger provides the logging interface shared by every rustctl
// component. The restart agent, the update watcher and the one-shot RCON
// tools all log through it so debug output can be switched on in one place.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger defines the interface for leveled logging across rustctl.
type Logger interface {
	// Debug logs a diagnostic message. Discarded unless debug output is enabled.
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "Checking for a client update").
	Info(format string, args ...interface{})

	// Warning logs a recoverable problem (e.g., "update check failed, retrying").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "rcon dial failed: connection refused").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times. Returns nil for loggers without resources.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	debug  bool

	closeOnce sync.Once
	closer    io.Closer
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug messages are dropped; use NewDebugLogger to keep them.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// NewDebugLogger creates a StandardLogger that also emits Debug messages.
func NewDebugLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l, debug: true}
}

// NewFileLogger appends to the file at path, creating it when missing.
// The file is closed by Close.
func NewFileLogger(path string, debug bool) (*StandardLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &StandardLogger{
		logger: log.New(f, "", log.LstdFlags),
		debug:  debug,
		closer: f,
	}, nil
}

// Debug logs a message with [DEBUG] prefix when debug output is enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close closes the log file of a file logger. It is a no-op otherwise.
func (s *StandardLogger) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger records all log calls for verification in tests.
// It is safe for concurrent use; the agent logs from several goroutines.
type MockLogger struct {
	mu           sync.Mutex
	debugCalls   []string
	infoCalls    []string
	warningCalls []string
	errorCalls   []string
	closeCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(dst *[]string, format string, args []interface{}) {
	m.mu.Lock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.debugCalls, format, args)
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.infoCalls, format, args)
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.warningCalls, format, args)
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.errorCalls, format, args)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	m.closeCalled = true
	m.mu.Unlock()
	return nil
}

func (m *MockLogger) snapshot(src []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), src...)
}

// DebugCalls returns a copy of the recorded Debug messages.
func (m *MockLogger) DebugCalls() []string { return m.snapshot(m.debugCalls) }

// InfoCalls returns a copy of the recorded Info messages.
func (m *MockLogger) InfoCalls() []string { return m.snapshot(m.infoCalls) }

// WarningCalls returns a copy of the recorded Warning messages.
func (m *MockLogger) WarningCalls() []string { return m.snapshot(m.warningCalls) }

// ErrorCalls returns a copy of the recorded Error messages.
func (m *MockLogger) ErrorCalls() []string { return m.snapshot(m.errorCalls) }

// CloseCalled reports whether Close was called.
func (m *MockLogger) CloseCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalled
}

var _ Logger = (*MockLogger)(nil)
