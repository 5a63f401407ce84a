package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatal("generated name is empty")
	}
	ctx := context.Background()
	rec.Observe(ctx, "service.confirm", true, 20*time.Millisecond)
	rec.Observe(ctx, "service.confirm", true, 30*time.Millisecond)
	rec.Observe(ctx, "service.confirm", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	snap := rec.Snapshot()
	if got := snap.Results["service.confirm"]["success"]; got != 2 {
		t.Fatalf("success count = %d, want 2", got)
	}
	if got := snap.Results["service.confirm"]["error"]; got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
	if got := snap.DurationsMS["service.confirm"]; got != 55 {
		t.Fatalf("duration total = %v ms, want 55", got)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation recorded: %+v", snap.Results)
	}
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "service.refresh")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "service.confirm")
	span.End(errors.New("store unavailable"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(entries))
	}
	if entries[0].Operation != "service.refresh" || entries[0].Status != "success" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "store unavailable" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}

	dec := json.NewDecoder(&buf)
	lines := 0
	for dec.More() {
		var entry JSONTraceEntry
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("decode trace line: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("encoded %d lines, want 2", lines)
	}
}

func TestListenerErrorLog(t *testing.T) {
	log := NewListenerErrorLog()
	log.Record("geofence listener 1", errors.New("boom"))
	log.Record("geofence listener 2", nil) // ignored

	errs := log.Errors()
	if len(errs) != 1 {
		t.Fatalf("recorded %d errors, want 1", len(errs))
	}
	if errs[0].Source != "geofence listener 1" || errs[0].Message != "boom" {
		t.Fatalf("entry = %+v", errs[0])
	}
}
