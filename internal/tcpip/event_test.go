package tcpip

import (
	"context"
	"testing"
	"time"
)

func TestEventQueueSendRecvRoundTrips(t *testing.T) {
	q := NewEventQueue()
	if err := q.Send(NetworkEvent{Kind: EventDataReady, FD: 1}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Recv(ctx)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if ev.Kind != EventDataReady || ev.FD != 1 {
		t.Fatalf("got %+v, want DataReady for fd 1", ev)
	}
}

func TestEventQueueFullReturnsResourceExhausted(t *testing.T) {
	q := NewEventQueue()
	for i := 0; i < eventQueueCapacity; i++ {
		if err := q.Send(NetworkEvent{Kind: EventClose, FD: SocketFD(i)}); err != nil {
			t.Fatalf("send %d failed before queue should be full: %v", i, err)
		}
	}
	if err := q.Send(NetworkEvent{Kind: EventClose}); err != ErrResourceExhausted {
		t.Fatalf("send on full queue = %v, want ErrResourceExhausted", err)
	}
}

func TestEventQueueRecvRespectsContextCancellation(t *testing.T) {
	q := NewEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Recv(ctx); err == nil {
		t.Fatalf("expected an error receiving on an already-canceled context")
	}
}

func TestEventQueueDrainAll(t *testing.T) {
	q := NewEventQueue()
	for i := 0; i < 3; i++ {
		_ = q.Send(NetworkEvent{Kind: EventDataReady, FD: SocketFD(i)})
	}
	drained := q.DrainAll()
	if len(drained) != 3 {
		t.Fatalf("drained %d events, want 3", len(drained))
	}
	if !q.IsEmpty() {
		t.Fatalf("queue should be empty after DrainAll")
	}
}
