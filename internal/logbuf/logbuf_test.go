package logbuf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestBufferWriteAndQuery(t *testing.T) {
	buf := New(5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "turn committed"})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if buf.Len() != 3 {
		t.Errorf("Len = %d", buf.Len())
	}
}

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "turn committed",
			Attrs:   map[string]any{"i": i},
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer size), got %d", len(entries))
	}
	// Oldest first: 2, 3, 4.
	if entries[0].Attrs["i"] != 2 || entries[2].Attrs["i"] != 4 {
		t.Fatalf("entries = %v", entries)
	}
}

func TestBufferQueryFilters(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "faq interrupt", CallID: "c_1"})
	buf.Write(Entry{Time: now.Add(time.Second), Level: "INFO", Message: "turn committed", CallID: "c_1"})
	buf.Write(Entry{Time: now.Add(2 * time.Second), Level: "WARN", Message: "outbox retry", CallID: "c_2"})
	buf.Write(Entry{Time: now.Add(3 * time.Second), Level: "ERROR", Message: "job failed"})

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{MinLevel: slog.LevelDebug}, []string{"faq interrupt", "turn committed", "outbox retry", "job failed"}},
		{"default level is info", Filter{}, []string{"turn committed", "outbox retry", "job failed"}},
		{"warn and above", Filter{MinLevel: slog.LevelWarn}, []string{"outbox retry", "job failed"}},
		{"since", Filter{MinLevel: slog.LevelDebug, Since: now.Add(2 * time.Second)}, []string{"outbox retry", "job failed"}},
		{"call", Filter{MinLevel: slog.LevelDebug, CallID: "c_1"}, []string{"faq interrupt", "turn committed"}},
		{"limit keeps newest", Filter{MinLevel: slog.LevelDebug, Limit: 1}, []string{"job failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buf.Query(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %v", len(got), len(tt.want), got)
			}
			for i, msg := range tt.want {
				if got[i].Message != msg {
					t.Errorf("entry %d = %q, want %q", i, got[i].Message, msg)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if l, ok := ParseLevel("warn"); !ok || l != slog.LevelWarn {
		t.Errorf("warn = %v, %v", l, ok)
	}
	if l, ok := ParseLevel("ERROR"); !ok || l != slog.LevelError {
		t.Errorf("ERROR = %v, %v", l, ok)
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Error("expected failure")
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("call started", "source", "telegram")
	logger.Warn("outbox retry", "error", errors.New("crm down"))

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "call started" || entries[0].Attrs["source"] != "telegram" {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[1].Level != "WARN" || entries[1].Attrs["error"] != "crm down" {
		t.Fatalf("entry = %+v", entries[1])
	}
}

func TestHandlerLiftsCallID(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("turn committed", "call_id", "c_1", "state", "ASK_BUDGET")
	logger.With("call_id", "c_2").Info("call ended")

	entries := buf.Query(Filter{CallID: "c_1"})
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	if _, ok := entries[0].Attrs["call_id"]; ok {
		t.Error("call_id should be lifted out of attrs")
	}
	if entries[0].Attrs["state"] != "ASK_BUDGET" {
		t.Errorf("attrs = %v", entries[0].Attrs)
	}
	if got := buf.Query(Filter{CallID: "c_2"}); len(got) != 1 || got[0].Attrs != nil {
		t.Errorf("bound call_id entries = %+v", got)
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf)).With("component", "calls")

	logger.Info("msg")

	entries := buf.Query(Filter{})
	if len(entries) != 1 || entries[0].Attrs["component"] != "calls" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	buf := New(10)
	// Inner handler only allows WARN+
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled (buffer captures all)")
	}

	logger := slog.New(handler)
	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", len(entries))
	}
}
