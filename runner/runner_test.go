package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Danamir/imap-attachment-extractor/stats"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventsReachEverySubscriber(t *testing.T) {
	r := New(context.Background(), quietLogger())

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"a", "b"} {
		r.SubscribeStats(name, func(ctx context.Context, events <-chan stats.Event) error {
			for range events {
				mu.Lock()
				counts[name]++
				mu.Unlock()
			}
			return nil
		})
	}

	r.AddStage("emit", func(ctx context.Context) error {
		for i := 0; i < 300; i++ {
			r.EmitEvent(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeScanned, UID: uint32(i)})
		}
		return nil
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if counts["a"] != 300 || counts["b"] != 300 {
		t.Errorf("counts = %v, want 300 each", counts)
	}
}

func TestStageErrorCancelsRun(t *testing.T) {
	r := New(context.Background(), quietLogger())
	boom := errors.New("boom")

	r.AddStage("fail", func(ctx context.Context) error {
		return boom
	})
	r.AddStage("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := r.Start()
	if !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want boom", err)
	}
}

func TestParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(ctx, quietLogger())
	r.AddStage("wait", func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if err := r.Start(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
}

func TestRunIDIsStable(t *testing.T) {
	r := New(context.Background(), nil)
	if r.ID() == "" || r.ID() != r.ID() {
		t.Fatalf("ID() = %q", r.ID())
	}
	if other := New(context.Background(), nil); other.ID() == r.ID() {
		t.Errorf("two runs share id %s", r.ID())
	}
}

func TestAddStageAfterStartPanics(t *testing.T) {
	r := New(context.Background(), quietLogger())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("AddStage() after Start() did not panic")
		}
	}()
	r.AddStage("late", func(context.Context) error { return nil })
}
