package event

import (
	"context"
	"testing"
	"time"
)

func TestForwardWrapsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	src := NewBus[testEvent](ctx, BusOptions{Name: "src"})
	t.Cleanup(src.Close)
	dst := NewBus[Envelope](ctx, BusOptions{Name: "firehose"})
	t.Cleanup(dst.Close)

	out, unsubscribe := dst.Subscribe()
	t.Cleanup(unsubscribe)

	Forward(ctx, src, dst, "test_engine")
	// Let the forwarder register its subscription before publishing.
	time.Sleep(10 * time.Millisecond)

	src.Publish(testEvent{Kind: "ping", Value: 7})

	select {
	case envelope := <-out:
		if envelope.Source != "test_engine" {
			t.Fatalf("expected source test_engine, got %q", envelope.Source)
		}
		if envelope.Kind != "ping" {
			t.Fatalf("expected kind ping, got %q", envelope.Kind)
		}
		payload, ok := envelope.Payload.(testEvent)
		if !ok || payload.Value != 7 {
			t.Fatalf("unexpected payload %#v", envelope.Payload)
		}
		if envelope.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}

func TestForwardStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	src := NewBus[testEvent](context.Background(), BusOptions{Name: "src"})
	t.Cleanup(src.Close)
	dst := NewBus[Envelope](context.Background(), BusOptions{Name: "firehose"})
	t.Cleanup(dst.Close)

	Forward(ctx, src, dst, "test_engine")
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	out, unsubscribe := dst.Subscribe()
	t.Cleanup(unsubscribe)
	src.Publish(testEvent{Kind: "ping"})

	select {
	case envelope := <-out:
		t.Fatalf("expected no forwarding after cancel, got %#v", envelope)
	case <-time.After(100 * time.Millisecond):
	}
}
