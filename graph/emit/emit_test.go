package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func sampleEvent() Event {
	return Event{
		ThreadID: "user_42",
		RunID:    "run_01",
		Step:     2,
		NodeID:   "Verify",
		Msg:      MsgNodeComplete,
		Meta: map[string]interface{}{
			"next_node":   "Prioritize",
			"duration_ms": int64(12),
		},
	}
}

func TestLogEmitter(t *testing.T) {
	t.Run("text mode", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(sampleEvent())

		out := buf.String()
		want := "[node_complete] thread=user_42 run=run_01 step=2 node=Verify"
		if !strings.HasPrefix(out, want) {
			t.Errorf("output = %q, want prefix %q", out, want)
		}
		if !strings.Contains(out, `"next_node":"Prioritize"`) {
			t.Errorf("output missing meta: %q", out)
		}
		if !strings.HasSuffix(out, "\n") {
			t.Error("output should end with newline")
		}
	})

	t.Run("json mode", func(t *testing.T) {
		var buf bytes.Buffer
		em := NewLogEmitter(&buf, true)
		em.Emit(sampleEvent())
		em.Emit(Event{ThreadID: "user_42", Msg: MsgRunComplete})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 JSON lines, got %d", len(lines))
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		if decoded["threadID"] != "user_42" || decoded["nodeID"] != "Verify" {
			t.Errorf("unexpected decoded event: %v", decoded)
		}
	})
}

func TestSlogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	em := NewSlogEmitter(logger)

	em.Emit(sampleEvent())
	em.Emit(Event{ThreadID: "user_42", NodeID: "Search", Msg: MsgNodeFault, Meta: map[string]interface{}{"error": "boom"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var first, second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}

	if first["level"] != "INFO" || first["msg"] != MsgNodeComplete || first["next_node"] != "Prioritize" {
		t.Errorf("unexpected first record: %v", first)
	}
	if second["level"] != "ERROR" || second["node"] != "Search" || second["error"] != "boom" {
		t.Errorf("unexpected fault record: %v", second)
	}
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ThreadID: "user_1", RunID: "r1", Step: 1, NodeID: "Search", Msg: MsgNodeComplete})
	b.Emit(Event{ThreadID: "user_1", RunID: "r1", Step: 2, NodeID: "Verify", Msg: MsgNodeFault})
	b.Emit(Event{ThreadID: "user_1", RunID: "r2", Step: 1, NodeID: "Prioritize", Msg: MsgNodeComplete})
	b.Emit(Event{ThreadID: "user_2", RunID: "r3", Step: 1, NodeID: "Search", Msg: MsgNodeComplete})

	if got := len(b.GetHistory("user_1")); got != 3 {
		t.Errorf("expected 3 events for user_1, got %d", got)
	}
	if got := b.GetHistory("nobody"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}

	two := 2
	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"by msg", HistoryFilter{Msg: MsgNodeFault}, 1},
		{"by run", HistoryFilter{RunID: "r2"}, 1},
		{"by node", HistoryFilter{NodeID: "Search"}, 1},
		{"min step", HistoryFilter{MinStep: &two}, 1},
		{"max step", HistoryFilter{MaxStep: &two}, 3},
		{"combined", HistoryFilter{RunID: "r1", Msg: MsgNodeComplete}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(b.GetHistoryWithFilter("user_1", tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}

	b.Clear("user_1")
	if len(b.GetHistory("user_1")) != 0 || len(b.GetHistory("user_2")) != 1 {
		t.Error("Clear(thread) should only drop that thread")
	}
	b.Clear("")
	if len(b.GetHistory("user_2")) != 0 {
		t.Error("Clear(\"\") should drop everything")
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b, NewNullEmitter())
	if len(m) != 3 {
		t.Fatalf("expected nil emitters to be skipped, got %d", len(m))
	}

	m.Emit(sampleEvent())
	if len(a.GetHistory("user_42")) != 1 || len(b.GetHistory("user_42")) != 1 {
		t.Error("event not delivered to every emitter")
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOTelEmitter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	em := NewOTelEmitter(tp.Tracer("test"), tp)
	em.Emit(sampleEvent())
	em.Emit(Event{
		ThreadID: "user_42",
		NodeID:   "Search",
		Msg:      MsgNodeFault,
		Meta: map[string]interface{}{
			"error":   "search backend unavailable",
			"elapsed": 1500 * time.Millisecond,
		},
	})

	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	ok := spans[0]
	if ok.Name != MsgNodeComplete {
		t.Errorf("span name = %q, want %q", ok.Name, MsgNodeComplete)
	}
	attrs := attributeMap(ok.Attributes)
	if attrs["aidgraph.thread_id"] != "user_42" {
		t.Errorf("thread_id = %v", attrs["aidgraph.thread_id"])
	}
	if attrs["aidgraph.step"] != int64(2) {
		t.Errorf("step = %v", attrs["aidgraph.step"])
	}
	if attrs["aidgraph.next_node"] != "Prioritize" {
		t.Errorf("next_node = %v", attrs["aidgraph.next_node"])
	}

	fault := spans[1]
	if fault.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", fault.Status.Code)
	}
	if got := attributeMap(fault.Attributes)["aidgraph.elapsed"]; got != int64(1500) {
		t.Errorf("duration attribute = %v, want 1500", got)
	}
}

func TestOTelEmitter_FlushWithoutProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	em := NewOTelEmitter(tp.Tracer("test"), nil)
	if err := em.Flush(context.Background()); err != nil {
		t.Errorf("Flush without provider should be a no-op, got %v", err)
	}
}
