package pgdao

import "log/slog"

// slogTracer is the log/slog-backed Tracer returned by NewSlogTracer,
// grounded on the structured-logging pattern used throughout the corpus
// (log/slog with key/value pairs). A Session opened with a nil Tracer uses
// noopTracer instead.
type slogTracer struct {
	logger *slog.Logger
}

// NewSlogTracer wraps logger (or slog.Default() if nil) as a Tracer.
func NewSlogTracer(logger *slog.Logger) Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogTracer{logger: logger}
}

func (t *slogTracer) Trace(ev TraceEvent) {
	attrs := []any{
		"source", ev.Source,
		"name", ev.Name,
		"duration_ms", ev.DurationMs,
		"success", ev.Success,
		"command_id", ev.CommandID,
		"row_count", ev.RowCount,
	}
	if ev.Text != "" {
		attrs = append(attrs, "text", ev.Text)
	}
	if ev.Success {
		t.logger.Debug("query", attrs...)
	} else {
		t.logger.Warn("query", attrs...)
	}
}

// noopTracer discards every event; used when a Session is built without an
// explicit Tracer.
type noopTracer struct{}

func (noopTracer) Trace(TraceEvent) {}
