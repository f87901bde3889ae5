package export

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/southpawriter02/twinraven/pkg/models"
)

const scopeName = "github.com/southpawriter02/twinraven"

// SpanConfig tunes the trace-span exporter.
type SpanConfig struct {
	// QueueSize bounds buffered spans awaiting export; overflow drops the
	// oldest spans with an error log.
	QueueSize int
	// BatchSize is how many spans go out per export call.
	BatchSize int
	// MaxRetries is the number of export attempts for one batch, the first
	// attempt included.
	MaxRetries int
}

// DefaultSpanConfig returns the span exporter defaults.
func DefaultSpanConfig() SpanConfig {
	return SpanConfig{QueueSize: 2048, BatchSize: 512, MaxRetries: 3}
}

// SpanExporter converts events to trace spans and ships them over OTLP.
type SpanExporter struct {
	exporter sdktrace.SpanExporter
	cfg      SpanConfig
	queue    []sdktrace.ReadOnlySpan
}

// NewSpanExporter dials an OTLP/gRPC collector endpoint.
func NewSpanExporter(ctx context.Context, endpoint string, cfg SpanConfig) (*SpanExporter, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial collector: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	return NewSpanExporterWith(exporter, cfg), nil
}

// NewSpanExporterWith wraps an existing span exporter (useful for testing).
func NewSpanExporterWith(exporter sdktrace.SpanExporter, cfg SpanConfig) *SpanExporter {
	def := DefaultSpanConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &SpanExporter{exporter: exporter, cfg: cfg}
}

// Export streams events out as spans. Whatever was exported before a
// cancellation stays exported; the cancellation is surfaced.
func (s *SpanExporter) Export(ctx context.Context, events Events) (int, error) {
	count := 0
	for event, err := range events {
		if err != nil {
			return count, fmt.Errorf("event stream failed: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		s.enqueue(EventToSpan(event))
		if len(s.queue) >= s.cfg.BatchSize {
			n := s.flush(ctx, s.cfg.BatchSize)
			count += n
		}
	}
	count += s.flush(ctx, len(s.queue))
	if err := ctx.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// Shutdown flushes the queue and releases the underlying exporter.
func (s *SpanExporter) Shutdown(ctx context.Context) error {
	s.flush(ctx, len(s.queue))
	return s.exporter.Shutdown(ctx)
}

func (s *SpanExporter) enqueue(span sdktrace.ReadOnlySpan) {
	if len(s.queue) >= s.cfg.QueueSize {
		dropped := len(s.queue) - s.cfg.QueueSize + 1
		slog.Error("Span queue overflow, dropping oldest spans", "dropped", dropped)
		s.queue = s.queue[dropped:]
	}
	s.queue = append(s.queue, span)
}

// flush exports up to n queued spans with bounded retries. Spans that still
// fail stay queued until overflow discards them.
func (s *SpanExporter) flush(ctx context.Context, n int) int {
	if n <= 0 || len(s.queue) == 0 {
		return 0
	}
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := s.queue[:n]

	var err error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if err = s.exporter.ExportSpans(ctx, batch); err == nil {
			s.queue = s.queue[n:]
			return n
		}
		if ctx.Err() != nil {
			break
		}
	}
	slog.Error("Span export failed, spans remain queued", "spans", n, "error", err)
	return 0
}

// EventToSpan maps one event to a span snapshot: the session id hashes to a
// stable 16-byte trace id, the event id truncates to an 8-byte span id, the
// outcome maps to span status, input params flatten to attributes at depth
// two, and the predecessor becomes a span link.
func EventToSpan(e *models.Event) sdktrace.ReadOnlySpan {
	traceID := trace.TraceID(md5.Sum([]byte(e.SessionID)))
	var spanID trace.SpanID
	copy(spanID[:], e.ID[:8])

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	attrs := []attribute.KeyValue{
		attribute.String("session.id", e.SessionID),
		attribute.String("tool.id", e.ToolID),
		attribute.String("input.hash", e.InputHash),
		attribute.StringSlice("tags", e.Tags),
	}
	attrs = append(attrs, flattenParams(e.InputParams)...)

	var links []sdktrace.Link
	if e.Predecessor != nil {
		var predID trace.SpanID
		copy(predID[:], e.Predecessor[:8])
		links = append(links, sdktrace.Link{
			SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: traceID,
				SpanID:  predID,
			}),
			Attributes: []attribute.KeyValue{attribute.String("link.kind", "predecessor")},
		})
	}

	stub := tracetest.SpanStub{
		Name:        e.ToolID,
		SpanContext: spanCtx,
		SpanKind:    trace.SpanKindInternal,
		StartTime:   e.Timestamp,
		EndTime:     e.Timestamp.Add(time.Duration(e.LatencyMS) * time.Millisecond),
		Attributes:  attrs,
		Links:       links,
		Status:      outcomeStatus(e.Outcome),
		InstrumentationScope: instrumentation.Scope{
			Name: scopeName,
		},
	}
	return stub.Snapshot()
}

func outcomeStatus(o models.Outcome) sdktrace.Status {
	switch o {
	case models.OutcomeSuccess:
		return sdktrace.Status{Code: codes.Ok}
	case models.OutcomeFailure:
		return sdktrace.Status{Code: codes.Error, Description: "tool call failed"}
	default:
		return sdktrace.Status{Code: codes.Unset}
	}
}

// flattenParams lowers a parameter tree to attributes, two levels deep.
// Anything deeper serializes to JSON.
func flattenParams(params map[string]any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for k, v := range params {
		key := "input.params." + k
		if nested, ok := v.(map[string]any); ok {
			for k2, v2 := range nested {
				attrs = append(attrs, paramAttr(key+"."+k2, v2))
			}
			continue
		}
		attrs = append(attrs, paramAttr(key, v))
	}
	return attrs
}

func paramAttr(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case float64:
		return attribute.Float64(key, x)
	case int:
		return attribute.Int(key, x)
	case int64:
		return attribute.Int64(key, x)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return attribute.String(key, fmt.Sprintf("%v", v))
		}
		return attribute.String(key, string(data))
	}
}
