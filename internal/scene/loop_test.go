package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
)

func runLoop(t *testing.T, src Source) *Loop {
	t.Helper()
	l := NewLoop(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return l
}

func TestLoopCaptureIsACopy(t *testing.T) {
	src := NewStatic(0, 3200, 3200)
	src.Mask().Set(coords.LocalCell{X: 4, Y: 4}, collision.BlockFloor)
	src.PlaceWall(coords.LocalCell{X: 5, Y: 5}, 1, "Door")
	l := runLoop(t, src)

	ctx := context.Background()
	snap, err := l.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Origin != (coords.Origin{BaseX: 3200, BaseY: 3200}) {
		t.Fatalf("origin=%+v", snap.Origin)
	}
	if !snap.HasCollision() || collision.IsWalkable(snap.Mask, coords.LocalCell{X: 4, Y: 4}) {
		t.Fatalf("expected blocked cell in snapshot")
	}
	if !snap.Doors.HasDoor(coords.LocalCell{X: 5, Y: 5}) {
		t.Fatalf("expected door in snapshot")
	}

	if err := l.Update(ctx, func(s Source) {
		s.(*Static).Mask().Set(coords.LocalCell{X: 4, Y: 4}, 0)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if collision.IsWalkable(snap.Mask, coords.LocalCell{X: 4, Y: 4}) {
		t.Fatalf("earlier snapshot must not observe later updates")
	}
	next, err := l.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !collision.IsWalkable(next.Mask, coords.LocalCell{X: 4, Y: 4}) {
		t.Fatalf("new snapshot should observe update")
	}
}

func TestLoopReplaceAndMissingCollision(t *testing.T) {
	l := runLoop(t, NewStatic(0, 0, 0))
	ctx := context.Background()

	bare := NewStatic(2, 10, 20)
	bare.Masks = nil
	if err := l.Replace(ctx, bare); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	snap, err := l.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.HasCollision() {
		t.Fatalf("expected no collision data")
	}
	if snap.Layer() != 2 {
		t.Fatalf("layer=%d", snap.Layer())
	}
	sum := snap.Summarize()
	if sum.WalkableCells != 0 || sum.HasCollision {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestLoopStopped(t *testing.T) {
	l := NewLoop(NewStatic(0, 0, 0), nil)
	done := make(chan struct{})
	go func() {
		_ = l.Run(context.Background())
		close(done)
	}()
	l.Stop()
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.Capture(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Capture after stop err=%v", err)
	}
}

func TestSnapshotDigest(t *testing.T) {
	src := NewStatic(0, 100, 200)
	a := Capture(src, nil)
	src.Player = coords.WorldPoint{X: 150, Y: 250}
	b := Capture(src, nil)
	if a.Digest() != b.Digest() {
		t.Fatalf("player position must not affect digest")
	}
	src.PlaceWall(coords.LocalCell{X: 1, Y: 1}, 5, "Gate")
	c := Capture(src, nil)
	if c.Digest() == a.Digest() {
		t.Fatalf("door change must affect digest")
	}
	src.Mask().Set(coords.LocalCell{X: 9, Y: 9}, collision.BlockFloor)
	d := Capture(src, nil)
	if d.Digest() == c.Digest() {
		t.Fatalf("mask change must affect digest")
	}
}

type readOnly struct{ Source }

func TestLoopEdits(t *testing.T) {
	src := NewStatic(0, 0, 0)
	l := runLoop(t, src)
	ctx := context.Background()

	if err := l.SetFlags(ctx, 0, coords.LocalCell{X: 1, Y: 2}, collision.BlockObject); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}
	if err := l.SetFlags(ctx, 0, coords.LocalCell{X: -1, Y: 2}, collision.BlockObject); err == nil {
		t.Fatalf("expected out-of-bounds edit to fail")
	}
	if err := l.SetFlags(ctx, 7, coords.LocalCell{X: 1, Y: 2}, collision.BlockObject); err == nil {
		t.Fatalf("expected edit on unknown layer to fail")
	}
	if err := l.SetPlayer(ctx, coords.WorldPoint{X: 9, Y: 9}); err != nil {
		t.Fatalf("SetPlayer: %v", err)
	}

	snap, err := l.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if collision.IsWalkable(snap.Mask, coords.LocalCell{X: 1, Y: 2}) {
		t.Fatalf("edit not visible")
	}
	if snap.Player != (coords.WorldPoint{X: 9, Y: 9}) {
		t.Fatalf("player=%+v", snap.Player)
	}

	ro := runLoop(t, readOnly{src})
	if err := ro.SetPlayer(ctx, coords.WorldPoint{}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestLoopAcceptedUpdateReportsSuccess(t *testing.T) {
	src := NewStatic(0, 0, 0)
	l := runLoop(t, src)

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := l.Update(ctx, func(s Source) {
			cancel()
			s.(*Static).Mask().Set(coords.LocalCell{X: 3, Y: 3}, collision.BlockObject)
		})
		if err != nil {
			t.Fatalf("Update after accept: %v", err)
		}
	}

	snap, err := l.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if collision.IsWalkable(snap.Mask, coords.LocalCell{X: 3, Y: 3}) {
		t.Fatalf("accepted edit not applied")
	}
}
