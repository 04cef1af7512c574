package apqueue

import (
	"context"
	"testing"
	"time"

	"github.com/gogglesmm/gap-core/pkg/apevent"
)

func TestPostOrderBackFront(t *testing.T) {
	q := New()
	q.Post(apevent.NewQuit(1), true)
	q.Post(apevent.NewPause(2), true)
	q.Post(apevent.NewClose(3), false) // front

	ctx := context.Background()
	first, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Stream() != 3 {
		t.Fatalf("front-posted event should pop first, got stream %d", first.Stream())
	}
	second, _ := q.Pop(ctx)
	if second.Stream() != 1 {
		t.Fatalf("expected stream 1 next, got %d", second.Stream())
	}
}

func TestPopBlocksUntilPost(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan apevent.Event, 1)
	go func() {
		e, err := q.Pop(ctx)
		if err != nil {
			return
		}
		done <- e
	}()

	time.Sleep(20 * time.Millisecond)
	q.Post(apevent.NewQuit(9), true)

	select {
	case e := <-done:
		if e.Stream() != 9 {
			t.Fatalf("stream = %d, want 9", e.Stream())
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Post")
	}
}

func TestPopContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestFlushDropsBuffersKeepsControl(t *testing.T) {
	q := New()
	q.Post(apevent.NewBuffer(1, nil), true)
	q.Post(apevent.NewPause(1), true)
	q.Post(apevent.NewBuffer(1, nil), true)

	q.Flush(apevent.NewFlush(1, false))

	ctx := context.Background()
	ev, _ := q.Pop(ctx)
	if _, ok := ev.(*apevent.Pause); !ok {
		t.Fatalf("expected Pause to survive flush first, got %T", ev)
	}
	ev, _ = q.Pop(ctx)
	if _, ok := ev.(*apevent.Flush); !ok {
		t.Fatalf("expected Flush barrier appended last, got %T", ev)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, len=%d", q.Len())
	}
}

func TestPopIfSkipsRejectedAndCallsOnSkip(t *testing.T) {
	q := New()
	q.Post(apevent.NewBuffer(1, nil), true)
	q.Post(apevent.NewBuffer(1, nil), true)
	q.Post(apevent.NewPause(1), true)

	var skipped int
	accept := func(e apevent.Event) bool { return e.Type() != apevent.TypeBuffer }
	onSkip := func(e apevent.Event) { skipped++ }

	ctx := context.Background()
	ev, err := q.PopIf(ctx, accept, onSkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ev.(*apevent.Pause); !ok {
		t.Fatalf("expected Pause, got %T", ev)
	}
	if skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
}
