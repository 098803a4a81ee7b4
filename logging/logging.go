// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package logging provides the structured logger used throughout the PDP
// (spec.md §9 ambient stack): a thin interface over logrus with the level
// and formatter conventions of the teacher's own logging/internal logging
// packages.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level mirrors the teacher's logging.Level (logging/logging.go).
type Level int

const (
	Error Level = iota
	Warn
	Info
	Debug
)

func (l Level) String() string {
	switch l {
	case Error:
		return "error"
	case Warn:
		return "warn"
	case Debug:
		return "debug"
	default:
		return "info"
	}
}

// GetLevel parses a configuration-file log-level string, defaulting to Info
// on the empty string (teacher internal/logging/logging.go).
func GetLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Debug, fmt.Errorf("invalid log level: %v", level)
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case Error:
		return logrus.ErrorLevel
	case Warn:
		return logrus.WarnLevel
	case Debug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the interface the module's ambient components log through: the
// document loader on reload, the HTTP server on undeliverable decisions,
// the tracing exporter for finished spans, and the serve command. The
// attribute broker, policy compiler and orchestrator do not log.
type Logger interface {
	Debug(fmt string, args ...interface{})
	Info(fmt string, args ...interface{})
	Warn(fmt string, args ...interface{})
	Error(fmt string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	GetLevel() Level
	SetLevel(Level)
}

// StandardLogger is the default Logger, backed by a *logrus.Logger.
type StandardLogger struct {
	entry *logrus.Entry
	level Level
}

// New returns a StandardLogger at Info level with the teacher's JSON
// formatter.
func New() *StandardLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(GetFormatter("json", ""))
	return &StandardLogger{entry: logrus.NewEntry(l), level: Info}
}

func (l *StandardLogger) Debug(f string, args ...interface{}) { l.entry.Debugf(f, args...) }
func (l *StandardLogger) Info(f string, args ...interface{})  { l.entry.Infof(f, args...) }
func (l *StandardLogger) Warn(f string, args ...interface{})  { l.entry.Warnf(f, args...) }
func (l *StandardLogger) Error(f string, args ...interface{}) { l.entry.Errorf(f, args...) }

func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	return &StandardLogger{entry: l.entry.WithFields(fields), level: l.level}
}

func (l *StandardLogger) GetLevel() Level { return l.level }

func (l *StandardLogger) SetLevel(level Level) {
	l.level = level
	l.entry.Logger.SetLevel(level.logrusLevel())
}

// SetFormat switches between the teacher's three output styles: compact
// JSON (default), pretty-printed JSON, or the human-readable text
// formatter below.
func (l *StandardLogger) SetFormat(format, timestampFormat string) {
	l.entry.Logger.SetFormatter(GetFormatter(format, timestampFormat))
}

// NoOpLogger discards everything; used by tests and by callers that have
// not configured a logger.
type NoOpLogger struct{ level Level }

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{level: Info} }

func (*NoOpLogger) Debug(string, ...interface{}) {}
func (*NoOpLogger) Info(string, ...interface{})  {}
func (*NoOpLogger) Warn(string, ...interface{})  {}
func (*NoOpLogger) Error(string, ...interface{}) {}
func (n *NoOpLogger) WithFields(map[string]interface{}) Logger { return n }
func (n *NoOpLogger) GetLevel() Level                          { return n.level }
func (n *NoOpLogger) SetLevel(level Level)                     { n.level = level }

// GetFormatter returns the logrus formatter for a configuration-file
// format name (teacher internal/logging/logging.go).
func GetFormatter(format, timestampFormat string) logrus.Formatter {
	switch format {
	case "text":
		return &prettyFormatter{}
	case "json-pretty":
		return &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: timestampFormat}
	default:
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
}

// prettyFormatter is a simpler, more readable alternative to logrus's own
// TextFormatter, copied from the teacher's own rationale for writing one.
type prettyFormatter struct{}

func isJSON(buf []byte) bool {
	var tmp interface{}
	return json.Unmarshal(buf, &tmp) == nil
}

func spaces(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(' ')
	}
	return sb.String()
}

func (p *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b := new(bytes.Buffer)
	level := strings.ToUpper(e.Level.String())
	fmt.Fprintf(b, "[%s] %s\n", level, e.Message)

	const fieldIndent = 2
	const multiLineIndent = 6
	for k, v := range e.Data {
		var stringVal string
		if s, ok := v.(string); ok && strings.Contains(s, "\n") {
			stringVal = s
		} else if s, ok := v.(string); ok && isJSON([]byte(s)) {
			var tmp bytes.Buffer
			if err := json.Indent(&tmp, []byte(s), spaces(multiLineIndent), spaces(2)); err != nil {
				return nil, err
			}
			stringVal = tmp.String()
		} else {
			jsonVal, err := json.MarshalIndent(v, spaces(multiLineIndent), spaces(2))
			if err != nil {
				return nil, err
			}
			stringVal = string(jsonVal)
		}
		b.WriteString(spaces(fieldIndent))
		b.WriteString(k)
		if strings.Contains(stringVal, "\n") {
			b.WriteString(" = |\n")
			b.WriteString(spaces(multiLineIndent))
		} else {
			b.WriteString(" = ")
		}
		b.WriteString(stringVal)
		b.WriteString("\n")
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
