package sprintbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	bus := New(nil)
	a := bus.Add(4)
	b := bus.Add(4)

	bus.Broadcast(Envelope{Type: EventPong, Payload: map[string]any{}})

	requireFrame(t, a, EventPong)
	requireFrame(t, b, EventPong)
}

func TestBroadcastStampsTimestampWhenMissing(t *testing.T) {
	bus := New(nil)
	sub := bus.Add(4)
	bus.Broadcast(Envelope{Type: EventPong, Payload: map[string]any{}})

	var env Envelope
	select {
	case data := <-sub.send:
		require.NoError(t, json.Unmarshal(data, &env))
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	require.False(t, env.Timestamp.IsZero())
}

func TestBroadcastMarksFullSubscriberForRemoval(t *testing.T) {
	bus := New(nil)
	sub := bus.Add(1)

	bus.Broadcast(Envelope{Type: EventPong, Payload: map[string]any{}})
	// Subscriber's single-slot buffer is now full; this second broadcast
	// must fail to send and remove the subscriber rather than drop the
	// event and leave it registered.
	bus.Broadcast(Envelope{Type: EventPong, Payload: map[string]any{}})

	require.Equal(t, 0, bus.SubscriberCount())
	require.True(t, sub.closed)
}

func TestRemoveIsIdempotent(t *testing.T) {
	bus := New(nil)
	sub := bus.Add(4)
	bus.Remove(sub)
	require.NotPanics(t, func() { bus.Remove(sub) })
}

func TestEmitLogsButDoesNotDropOnMissingRequiredKey(t *testing.T) {
	bus := New(nil)
	sub := bus.Add(4)

	bus.Emit(EventBatchStart, map[string]any{"batch_id": int64(1)}) // missing max_cycles

	requireFrame(t, sub, EventBatchStart)
}

func TestEmitAcceptsAnyPayloadForUnknownEventType(t *testing.T) {
	bus := New(nil)
	sub := bus.Add(4)

	bus.Emit("cleanup:complete", map[string]any{"count": 3})

	requireFrame(t, sub, "cleanup:complete")
}

func requireFrame(t *testing.T, sub *subscriber, wantType string) {
	t.Helper()
	select {
	case data := <-sub.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, wantType, env.Type)
	case <-time.After(time.Second):
		t.Fatalf("no frame of type %s received", wantType)
	}
}
