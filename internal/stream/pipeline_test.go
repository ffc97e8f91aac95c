package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/moc/pkg/models"
)

// flushRecorder adds http.Flusher to httptest.ResponseRecorder so Pipeline
// can assert on flush behavior without a real network round trip.
type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func decodeFrames(t *testing.T, body []byte) []models.StreamFrame {
	t.Helper()
	var frames []models.StreamFrame
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var frame models.StreamFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestPipelineWritesNDJSONFrames(t *testing.T) {
	rec := newFlushRecorder()
	p := New(rec, "", nil)

	if p.TraceID() == "" {
		t.Fatal("expected a generated trace id")
	}
	if err := p.Status("thinking"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := p.Result(models.ChatResult{Conversation: "done"}); err != nil {
		t.Fatalf("result: %v", err)
	}

	frames := decodeFrames(t, rec.Body.Bytes())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != models.FrameStatus || frames[0].Message != "thinking" {
		t.Fatalf("got %+v", frames[0])
	}
	if frames[1].Type != models.FrameResult || frames[1].Payload == nil || frames[1].Payload.Conversation != "done" {
		t.Fatalf("got %+v", frames[1])
	}
	if rec.flushes < 2 {
		t.Fatalf("got %d flushes, want at least 2", rec.flushes)
	}
}

func TestPipelineResultClosesStream(t *testing.T) {
	rec := newFlushRecorder()
	p := New(rec, "trace-1", nil)

	if err := p.Result(models.ChatResult{Conversation: "first"}); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := p.Status("too late"); err != nil {
		t.Fatalf("status after close: %v", err)
	}
	if err := p.Error("too late", ""); err != nil {
		t.Fatalf("error after close: %v", err)
	}

	frames := decodeFrames(t, rec.Body.Bytes())
	if len(frames) != 1 {
		t.Fatalf("got %d frames after close, want 1", len(frames))
	}
}

func TestPipelineUsesProvidedTraceID(t *testing.T) {
	rec := newFlushRecorder()
	p := New(rec, "fixed-trace", nil)
	_ = p.Status("hi")

	frames := decodeFrames(t, rec.Body.Bytes())
	if frames[0].TraceID != "fixed-trace" {
		t.Fatalf("got %q, want fixed-trace", frames[0].TraceID)
	}
	if rec.Header().Get("X-Trace-Id") != "fixed-trace" {
		t.Fatalf("got header %q", rec.Header().Get("X-Trace-Id"))
	}
}

func TestPipelineLogDropsAfterBackpressureSignal(t *testing.T) {
	rec := newFlushRecorder()
	p := New(rec, "", nil)

	if err := p.Log("srv", models.LogInfo, "first", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	p.DropLogs()
	if err := p.Log("srv", models.LogInfo, "second", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := p.Log("srv", models.LogInfo, "third", ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	frames := decodeFrames(t, rec.Body.Bytes())
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (only the pre-drop log)", len(frames))
	}
	if p.Dropped() != 2 {
		t.Fatalf("got %d dropped, want 2", p.Dropped())
	}
}

func TestPipelineLogInheritsServerTraceID(t *testing.T) {
	rec := newFlushRecorder()
	p := New(rec, "request-trace", nil)

	if err := p.Log("srv", models.LogWarning, nil, "server-trace"); err != nil {
		t.Fatalf("log: %v", err)
	}
	frames := decodeFrames(t, rec.Body.Bytes())
	if frames[0].TraceID != "server-trace" {
		t.Fatalf("got %q, want server-trace", frames[0].TraceID)
	}
}
