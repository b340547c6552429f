package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	boardSpanName    = "board.request"
	boardEventName   = "board.request.completed"
	boardEventDomain = "boardgate"
)

// boardRequestMetrics records one board request end to end: an otel span
// plus a structured observability.event log record carrying the same
// attributes, so traces and logs line up.
type boardRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route         string
	scope         string
	authDuration  time.Duration
	fetchDuration time.Duration
	tasksReturned int
	errorStage    string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	tracer := otel.Tracer("boardgate/api")
	spanCtx, span := tracer.Start(ctx, boardSpanName)
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
	}, spanCtx
}

func (m *boardRequestMetrics) SetScope(scope string) { m.scope = scope }

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *boardRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the span and emits the observability event.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("boardgate.board.scope", m.scope),
		attribute.Int("boardgate.board.tasks_returned", m.tasksReturned),
		attribute.Float64("boardgate.board.total_ms", totalMs),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("boardgate.board.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("boardgate.board.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("boardgate.board.error_stage", m.errorStage))
	}

	severityText, severityNumber := severityForStatus(status, err)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	m.span.SetAttributes(attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if err != nil || status >= http.StatusInternalServerError {
		desc := "request failed"
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
