package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestPublishSubscribe(t *testing.T) {
	hub := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := hub.Subscribe(ctx)
	defer stop()

	// Give the subscriber a moment to register.
	time.Sleep(50 * time.Millisecond)

	want := Event{Type: TypeIdeaState, Ref: "idea-1", Actor: "admin@example.com", Detail: "Incubation"}
	if err := hub.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-events:
		if got.Type != want.Type || got.Ref != want.Ref || got.Actor != want.Actor || got.Detail != want.Detail {
			t.Fatalf("got event %+v, want %+v", got, want)
		}
		if got.At.IsZero() {
			t.Fatal("expected At to be stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	events, stop := hub.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)
	stop()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
