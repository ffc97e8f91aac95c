// Package stream implements the per-request NDJSON streaming pipeline
// that carries status/log/result/error frames over a chunked HTTP
// response (spec §4.5).
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/moc/pkg/models"
)

// Pipeline is the single writer for one in-flight /api/chat response.
// Every method takes an internal mutex, so the loop's calls on the request
// goroutine and log callbacks arriving on an MCP client's dispatch
// goroutine may interleave; each frame is written whole.
type Pipeline struct {
	flusher http.Flusher
	logger  *slog.Logger
	traceID string

	mu      sync.Mutex
	closed  bool
	dropped int
	encoder *json.Encoder
}

// New wraps w as a chunked NDJSON writer. traceID, if empty, gets a
// fresh uuid.
func New(w http.ResponseWriter, traceID string, logger *slog.Logger) *Pipeline {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("X-Trace-Id", traceID)
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	return &Pipeline{
		flusher: flusher,
		logger:  logger,
		traceID: traceID,
		encoder: json.NewEncoder(w),
	}
}

// TraceIDFromSpan extracts a hex trace id from an active OpenTelemetry
// span, or returns "" if none is recording.
func TraceIDFromSpan(span trace.Span) string {
	if span == nil || !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// TraceID returns the id every frame on this pipeline carries by
// default.
func (p *Pipeline) TraceID() string { return p.traceID }

// Status emits a status frame. Never dropped.
func (p *Pipeline) Status(message string) error {
	return p.write(models.StreamFrame{
		Type:      models.FrameStatus,
		TraceID:   p.traceID,
		Timestamp: time.Now(),
		Message:   message,
	}, false)
}

// Log emits a log frame, attributed to the originating server. If
// serverTraceID is non-empty it is used in place of the request trace
// id, per spec §4.5 ("log frames inherit their own trace ids from the
// originating MCP server if present"). Log frames are droppable; once
// the pipeline has dropped one it keeps dropping for the rest of the
// request rather than reordering frames around the gap.
func (p *Pipeline) Log(server string, level models.LogLevel, data any, serverTraceID string) error {
	traceID := p.traceID
	if serverTraceID != "" {
		traceID = serverTraceID
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.dropped > 0 {
		p.dropped++
		if p.logger != nil {
			p.logger.Warn("dropping log frame under backpressure", "server", server, "dropped_total", p.dropped)
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.write(models.StreamFrame{
		Type:      models.FrameLog,
		TraceID:   traceID,
		Timestamp: time.Now(),
		Server:    server,
		Level:     level,
		Data:      data,
	}, false)
}

// DropLogs marks the pipeline as over its outbound buffer bound; every
// subsequent Log call is a no-op until the pipeline closes. Status and
// Result/Error are never affected.
func (p *Pipeline) DropLogs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped == 0 {
		p.dropped = 1
	}
}

// Result emits the terminal result frame and marks the pipeline closed.
// Calling Status/Log/Result/Error after this is a no-op.
func (p *Pipeline) Result(payload models.ChatResult) error {
	return p.write(models.StreamFrame{
		Type:      models.FrameResult,
		TraceID:   p.traceID,
		Timestamp: time.Now(),
		Payload:   &payload,
	}, true)
}

// Error emits the terminal error frame and marks the pipeline closed.
func (p *Pipeline) Error(message, details string) error {
	return p.write(models.StreamFrame{
		Type:      models.FrameError,
		TraceID:   p.traceID,
		Timestamp: time.Now(),
		Message:   message,
		Details:   details,
	}, true)
}

// Dropped reports how many log frames were dropped under backpressure.
func (p *Pipeline) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped == 0 {
		return 0
	}
	return p.dropped - 1
}

func (p *Pipeline) write(frame models.StreamFrame, terminal bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if terminal {
		p.closed = true
	}

	if err := p.encoder.Encode(frame); err != nil {
		return err
	}
	if p.flusher != nil {
		p.flusher.Flush()
	}
	return nil
}
