package log

import (
	"path/filepath"
	"testing"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
)

func TestPlanLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewPlanLogger(dir)
	l.w.now = func() time.Time { return time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC) }

	for i, id := range []string{"a", "b"} {
		rec := bridge.PlanRecord{
			RequestID: id,
			Kind:      protocol.TypePath,
			Goal:      protocol.Point{i, i, 0},
			Path:      []protocol.Point{{0, 0, 0}, {i, i, 0}},
			Diagnostics: pathing.Diagnostics{
				FoundGoal:  true,
				Expansions: 7,
			},
		}
		if err := l.WritePlan(rec); err != nil {
			t.Fatalf("WritePlan: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening the same hour appends a second zstd frame.
	l2 := NewPlanLogger(dir)
	l2.w.now = l.w.now
	if err := l2.WritePlan(bridge.PlanRecord{RequestID: "c"}); err != nil {
		t.Fatalf("WritePlan: %v", err)
	}
	_ = l2.Close()

	files, err := PlanFiles(dir)
	if err != nil {
		t.Fatalf("PlanFiles: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "plans-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	recs, err := ReadPlans(files[0])
	if err != nil {
		t.Fatalf("ReadPlans: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records=%d", len(recs))
	}
	if recs[1].RequestID != "b" || recs[1].Goal != (protocol.Point{1, 1, 0}) || recs[1].Diagnostics.Expansions != 7 {
		t.Fatalf("record=%+v", recs[1])
	}
	if recs[2].RequestID != "c" {
		t.Fatalf("appended record=%+v", recs[2])
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "plans")
	hour := 0
	w.now = func() time.Time { return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC) }
	var closed []string
	w.OnSegmentClosed(func(path string) { closed = append(closed, filepath.Base(path)) })

	_ = w.Write(map[string]int{"n": 1})
	hour = 1
	_ = w.Write(map[string]int{"n": 2})
	_ = w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "plans-*.jsonl.zst"))
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
	if len(closed) != 2 || closed[0] != "plans-2026-03-01-00.jsonl.zst" || closed[1] != "plans-2026-03-01-01.jsonl.zst" {
		t.Fatalf("closed=%v", closed)
	}
}
