package bridge

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueAddGetOrder(t *testing.T) {
	q := NewResponseQueue(testLogger())
	defer q.Stop()

	ctx := context.Background()
	msgs := []Message{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range msgs {
		if err := q.Add(ctx, m); err != nil {
			t.Fatalf("Add(%q) = %v", m, err)
		}
	}
	for _, want := range msgs {
		got, ok := q.Get(ctx)
		if !ok {
			t.Fatalf("Get() returned ok=false, want message %q", want)
		}
		if string(got) != string(want) {
			t.Fatalf("Get() = %q, want %q", got, want)
		}
	}
}

func TestQueueFullDropsAndErrors(t *testing.T) {
	q := NewResponseQueue(testLogger())
	defer q.Stop()

	ctx := context.Background()
	for i := 0; i < QueueCapacity; i++ {
		if err := q.Add(ctx, Message("x")); err != nil {
			t.Fatalf("Add() unexpectedly failed at %d: %v", i, err)
		}
	}
	if err := q.Add(ctx, Message("overflow")); err != ErrQueueFull {
		t.Fatalf("Add() on full queue = %v, want ErrQueueFull", err)
	}
}

func TestQueueGetContextCancel(t *testing.T) {
	q := NewResponseQueue(testLogger())
	defer q.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Get(ctx); ok {
		t.Fatal("expected Get() on a cancelled context to return ok=false")
	}
}
