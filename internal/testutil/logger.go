package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

// RecordingLogger keeps every formatted line of the leveled methods.
// Methods it does not override go to the wrapped logger.
type RecordingLogger struct {
	log.Logger
	lines []string
	mu    sync.Mutex
}

// NewRecordingLogger creates a RecordingLogger over log.NewLogger().
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{Logger: log.NewLogger()}
}

// Infof ...
func (l *RecordingLogger) Infof(format string, v ...interface{}) {
	l.record("info", format, v...)
}

// Warnf ...
func (l *RecordingLogger) Warnf(format string, v ...interface{}) {
	l.record("warn", format, v...)
}

// Printf ...
func (l *RecordingLogger) Printf(format string, v ...interface{}) {
	l.record("print", format, v...)
}

// Donef ...
func (l *RecordingLogger) Donef(format string, v ...interface{}) {
	l.record("done", format, v...)
}

// Debugf ...
func (l *RecordingLogger) Debugf(format string, v ...interface{}) {
	l.record("debug", format, v...)
}

// Errorf ...
func (l *RecordingLogger) Errorf(format string, v ...interface{}) {
	l.record("error", format, v...)
}

// Lines returns the recorded lines as "level: message".
func (l *RecordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := make([]string, len(l.lines))
	copy(lines, l.lines)
	return lines
}

// Contains reports whether a line of the given level contains substr.
func (l *RecordingLogger) Contains(level, substr string) bool {
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, level+": ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (l *RecordingLogger) record(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+fmt.Sprintf(format, v...))
}
