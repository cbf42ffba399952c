package scene

import (
	"context"
	"errors"

	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

var (
	// ErrStopped is returned when a request reaches a loop that is not running.
	ErrStopped = errors.New("scene loop stopped")
	// ErrReadOnly is returned by edits against a Source that is not Editable.
	ErrReadOnly = errors.New("scene source is read-only")
)

// Editable is implemented by sources that accept live edits.
type Editable interface {
	SetFlags(layer int, c coords.LocalCell, f collision.Flags) bool
	SetPlayer(p coords.WorldPoint)
}

// CaptureRequest asks the loop for a consistent snapshot.
type CaptureRequest struct {
	Resp chan Snapshot
}

// UpdateRequest runs Fn against the live source on the loop goroutine.
type UpdateRequest struct {
	Fn   func(Source)
	Done chan struct{}
}

// ReplaceRequest swaps the live source, e.g. after a scene file reload.
type ReplaceRequest struct {
	Src  Source
	Done chan struct{}
}

// Loop owns a Source on a single goroutine. All reads of collision flags,
// wall objects and object names happen inside Run; callers only see
// captured Snapshots.
type Loop struct {
	src Source
	cls doors.Classifier

	capture chan CaptureRequest
	update  chan UpdateRequest
	replace chan ReplaceRequest
	stop    chan struct{}
	done    chan struct{}
}

func NewLoop(src Source, cls doors.Classifier) *Loop {
	return &Loop{
		src:     src,
		cls:     cls,
		capture: make(chan CaptureRequest),
		update:  make(chan UpdateRequest),
		replace: make(chan ReplaceRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run serves requests until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case req := <-l.capture:
			req.Resp <- Capture(l.src, l.cls)
		case req := <-l.update:
			req.Fn(l.src)
			close(req.Done)
		case req := <-l.replace:
			if req.Src != nil {
				l.src = req.Src
			}
			close(req.Done)
		}
	}
}

// Stop asks Run to return. It is safe to call once.
func (l *Loop) Stop() { close(l.stop) }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Capture returns a snapshot taken on the loop goroutine.
func (l *Loop) Capture(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	select {
	case l.capture <- CaptureRequest{Resp: resp}:
	case <-l.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Update runs fn on the loop goroutine and waits for it to finish. ctx only
// bounds the wait for the loop to accept the request; once accepted, fn
// runs to completion and Update reports success.
func (l *Loop) Update(ctx context.Context, fn func(Source)) error {
	done := make(chan struct{})
	select {
	case l.update <- UpdateRequest{Fn: fn, Done: done}:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Replace swaps the live source. Like Update, an accepted request always
// completes.
func (l *Loop) Replace(ctx context.Context, src Source) error {
	done := make(chan struct{})
	select {
	case l.replace <- ReplaceRequest{Src: src, Done: done}:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (l *Loop) edit(ctx context.Context, fn func(Editable) error) error {
	var err error
	if uerr := l.Update(ctx, func(src Source) {
		e, ok := src.(Editable)
		if !ok {
			err = ErrReadOnly
			return
		}
		err = fn(e)
	}); uerr != nil {
		return uerr
	}
	return err
}

// SetFlags overwrites the collision flags of one cell on layer.
func (l *Loop) SetFlags(ctx context.Context, layer int, c coords.LocalCell, f collision.Flags) error {
	return l.edit(ctx, func(e Editable) error {
		if !e.SetFlags(layer, c, f) {
			return errors.New("cell outside scene or layer without collision data")
		}
		return nil
	})
}

// SetPlayer moves the local player.
func (l *Loop) SetPlayer(ctx context.Context, p coords.WorldPoint) error {
	return l.edit(ctx, func(e Editable) error {
		e.SetPlayer(p)
		return nil
	})
}
