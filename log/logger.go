// Package log provides category-aware logging on top of logrus.
package log

import (
	"io"
	"regexp"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with a category field and an optional
// category filter. Every subsystem logs under its own category
// (e.g. "Bus:emit", "Browser:waitForSelector") so that debug output
// can be narrowed to the area under investigation.
type Logger struct {
	*logrus.Logger

	debugOverride  bool
	categoryFilter *regexp.Regexp
}

// New returns a Logger wrapping the given logrus logger.
func New(logger *logrus.Logger, debugOverride bool, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		Logger:         logger,
		debugOverride:  debugOverride,
		categoryFilter: categoryFilter,
	}
}

// NewNullLogger returns a Logger that discards everything. Useful in tests.
func NewNullLogger() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log, false, nil)
}

// Tracef logs a trace message for the given category.
func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.logf(logrus.TraceLevel, category, msg, args...)
}

// Debugf logs a debug message for the given category.
func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.logf(logrus.DebugLevel, category, msg, args...)
}

// Infof logs an info message for the given category.
func (l *Logger) Infof(category string, msg string, args ...any) {
	l.logf(logrus.InfoLevel, category, msg, args...)
}

// Warnf logs a warning message for the given category.
func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.logf(logrus.WarnLevel, category, msg, args...)
}

// Errorf logs an error message for the given category.
func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.logf(logrus.ErrorLevel, category, msg, args...)
}

func (l *Logger) logf(level logrus.Level, category string, msg string, args ...any) {
	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}
	entry := l.WithField("category", category)
	if l.GetLevel() < level && l.debugOverride {
		entry.Printf(msg, args...)
		return
	}
	entry.Logf(level, msg, args...)
}

// SetLevel sets the logger level from a level string ("debug", "info", ...).
func (l *Logger) SetLevel(level string) error {
	pl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(pl)
	return nil
}

// DebugMode returns true if the logger level is set to Debug or higher.
func (l *Logger) DebugMode() bool {
	return l.Logger.GetLevel() >= logrus.DebugLevel
}
