package audit

import (
	"context"
	"log/slog"
)

// Message is the log message every audit record is emitted with.
const Message = "csp report"

// Auditor receives the audit record of every processed report.
type Auditor interface {
	AuditReport(rec Record)
}

// LoggingAuditor implements Auditor by logging to slog. Each record becomes
// exactly one log line stamped with the record's own time.
type LoggingAuditor struct {
	logger *slog.Logger
}

// NewLoggingAuditor creates a new LoggingAuditor
func NewLoggingAuditor(logger *slog.Logger) *LoggingAuditor {
	return &LoggingAuditor{
		logger: logger,
	}
}

// AuditReport logs the record using structured logging. Allowed reports are
// logged at INFO, blocked ones at WARN.
func (a *LoggingAuditor) AuditReport(rec Record) {
	level := slog.LevelInfo
	if !rec.Allowed() {
		level = slog.LevelWarn
	}

	ctx := context.Background()
	handler := a.logger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}

	r := slog.NewRecord(rec.Time, level, Message, 0)
	r.AddAttrs(rec.Attrs()...)
	_ = handler.Handle(ctx, r)
}
