// Package notify pushes operator-facing notifications: breaker trips,
// emergency shutdowns and risk-rejection storms. Sinks are best-effort
// and never sit in the order path.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity orders notifications for filtering
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps a config string to a Severity, defaulting to INFO
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "WARNING", "WARN":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Notification is one operator message
type Notification struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Fields    map[string]any
}

// Notifier delivers notifications to one sink
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Manager fans notifications out to every configured sink, dropping
// those below the minimum severity. Sink failures are logged, not
// propagated to trading code.
type Manager struct {
	sinks  []Notifier
	min    Severity
	logger zerolog.Logger
}

// NewManager creates a manager delivering at or above min severity
func NewManager(min Severity, sinks ...Notifier) *Manager {
	return &Manager{
		sinks:  sinks,
		min:    min,
		logger: log.With().Str("component", "notify").Logger(),
	}
}

// Send delivers n to every sink. Returns the last sink error, which
// callers are free to ignore.
func (m *Manager) Send(ctx context.Context, n Notification) error {
	if n.Severity.rank() < m.min.rank() {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, n); err != nil {
			m.logger.Error().Err(err).
				Str("title", n.Title).
				Msg("notification delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// Critical sends a CRITICAL notification
func (m *Manager) Critical(ctx context.Context, title, message string, fields map[string]any) error {
	return m.Send(ctx, Notification{Title: title, Message: message, Severity: SeverityCritical, Fields: fields})
}

// Warning sends a WARNING notification
func (m *Manager) Warning(ctx context.Context, title, message string, fields map[string]any) error {
	return m.Send(ctx, Notification{Title: title, Message: message, Severity: SeverityWarning, Fields: fields})
}

// Info sends an INFO notification
func (m *Manager) Info(ctx context.Context, title, message string, fields map[string]any) error {
	return m.Send(ctx, Notification{Title: title, Message: message, Severity: SeverityInfo, Fields: fields})
}

// LogNotifier writes notifications to the structured log. It is always
// configured so notifications survive even with Telegram disabled.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed sink
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	var evt *zerolog.Event
	switch n.Severity {
	case SeverityCritical:
		evt = l.logger.Error()
	case SeverityWarning:
		evt = l.logger.Warn()
	default:
		evt = l.logger.Info()
	}
	for k, v := range n.Fields {
		evt = evt.Interface(k, v)
	}
	evt.
		Str("title", n.Title).
		Str("severity", string(n.Severity)).
		Msg(n.Message)
	return nil
}
