package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one lifecycle transition reported to the audit trail.
type AuditEvent struct {
	Kind      string
	Message   string
	SubjectID string
	Security  bool
	Timestamp time.Time
	Attrs     map[string]string
}

// AuditHook receives audit events. Implementations must not block the caller for
// long and must never fail the operation that produced the event.
type AuditHook interface {
	Record(ctx context.Context, event AuditEvent)
}

type NoopAuditSink struct{}

func (NoopAuditSink) Record(context.Context, AuditEvent) {}

// LogAuditSink writes audit events as structured log records.
type LogAuditSink struct {
	logger *slog.Logger
}

func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) Record(ctx context.Context, event AuditEvent) {
	attrs := []any{
		"event", event.Kind,
		"subject_id", event.SubjectID,
		"security", event.Security,
		"at", event.Timestamp,
	}
	keys := make([]string, 0, len(event.Attrs))
	for k := range event.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, event.Attrs[k])
	}
	level := slog.LevelInfo
	if event.Security {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "audit: "+event.Message, attrs...)
}

// SpanAuditSink records audit events on the span active in ctx. It must run
// synchronously, ahead of any dispatcher, while that span is still open.
type SpanAuditSink struct{}

func (SpanAuditSink) Record(ctx context.Context, event AuditEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("audit.kind", event.Kind),
		attribute.Bool("audit.security", event.Security),
	}
	if event.SubjectID != "" {
		attrs = append(attrs, attribute.String("audit.subject_id", event.SubjectID))
	}
	keys := make([]string, 0, len(event.Attrs))
	for k := range event.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String("audit."+k, event.Attrs[k]))
	}
	span.AddEvent("audit: "+event.Message, trace.WithAttributes(attrs...))
}

// MultiAuditSink fans an event out to every hook in order.
type MultiAuditSink []AuditHook

func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) {
	for _, h := range m {
		if h != nil {
			h.Record(ctx, event)
		}
	}
}

// Audit logs a request-scoped audit line for actions taken through the HTTP layer.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
