package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New[int]()
	defer b.Close()

	ch := make(chan int, 4)
	if err := b.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("received %d, want 42", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New[int]()
	defer b.Close()

	ch := make(chan int, 1)
	if err := b.Subscribe("slow", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		b.Publish(1) // fills the buffer
		b.Publish(2) // must drop, not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on a full subscriber")
	}

	stats := b.Stats()["slow"]
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Fatalf("stats = %+v, want 1 sent / 1 dropped", stats)
	}
}

func TestDuplicateSubscriberRejected(t *testing.T) {
	b := New[int]()
	defer b.Close()

	ch := make(chan int, 1)
	if err := b.Subscribe("dup", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("dup", ch); err != ErrSubscriberExists {
		t.Fatalf("second Subscribe = %v, want ErrSubscriberExists", err)
	}
	if err := b.Subscribe("nil", nil); err != ErrNilChannel {
		t.Fatalf("nil channel Subscribe = %v, want ErrNilChannel", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[int]()
	defer b.Close()

	ch := make(chan int, 4)
	if err := b.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Unsubscribe("test"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := b.Unsubscribe("test"); err != ErrUnknownSubscriber {
		t.Fatalf("second Unsubscribe = %v, want ErrUnknownSubscriber", err)
	}

	b.Publish(1)
	select {
	case v := <-ch:
		t.Fatalf("received %d after unsubscribe", v)
	default:
	}
}

func TestCloseDiscardsPublishes(t *testing.T) {
	b := New[int]()
	ch := make(chan int, 1)
	if err := b.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Close()
	b.Publish(1)

	select {
	case v := <-ch:
		t.Fatalf("received %d after Close", v)
	default:
	}
	if err := b.Subscribe("late", make(chan int, 1)); err != ErrClosed {
		t.Fatalf("Subscribe after Close = %v, want ErrClosed", err)
	}
}
