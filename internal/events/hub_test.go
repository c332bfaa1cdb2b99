// SPDX-License-Identifier: MIT

package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHub_SubscribeAndPublish(t *testing.T) {
	h := NewHub(zerolog.Nop(), 10)
	ch := h.Subscribe(TypeOccupancyUpdate)
	defer h.Unsubscribe(ch)

	h.EmitOccupancyUpdate(1, "Lobby", 3, 10)

	select {
	case ev := <-ch:
		if ev.Type != TypeOccupancyUpdate {
			t.Fatalf("got type %q, want %q", ev.Type, TypeOccupancyUpdate)
		}
		if ev.Data["zone_id"] != int64(1) {
			t.Fatalf("got zone_id %v", ev.Data["zone_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHub_UnmatchedTypeNotDelivered(t *testing.T) {
	h := NewHub(zerolog.Nop(), 10)
	ch := h.Subscribe(TypeAccessLog)
	defer h.Unsubscribe(ch)

	h.EmitOccupancyUpdate(1, "Lobby", 3, 10)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SubscribeAllReceivesEverything(t *testing.T) {
	h := NewHub(zerolog.Nop(), 10)
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.EmitAccessLog(1, "Main Gate", "Jane Doe", "Tenant", "RFID-1", true, true, "ACCESS_GRANTED")
	h.EmitOccupancyUpdate(1, "Lobby", 1, 10)

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHub_PublishDropsOnFullBuffer(t *testing.T) {
	h := NewHub(zerolog.Nop(), 1)
	ch := h.Subscribe(TypeAccessLog)
	defer h.Unsubscribe(ch)

	h.EmitAccessLog(1, "Gate", "A", "Role", "X", true, true, "ACCESS_GRANTED")
	h.EmitAccessLog(1, "Gate", "B", "Role", "Y", true, true, "ACCESS_GRANTED")

	if n := len(ch); n != 1 {
		t.Fatalf("expected buffered channel to hold exactly 1 event, got %d", n)
	}
}

func TestHub_SubscriberCount(t *testing.T) {
	h := NewHub(zerolog.Nop(), 10)
	ch1 := h.Subscribe(TypeAccessLog)
	ch2 := h.Subscribe()
	if got := h.SubscriberCount(); got != 2 {
		t.Fatalf("got %d subscribers, want 2", got)
	}
	h.Unsubscribe(ch1)
	h.Unsubscribe(ch2)
	if got := h.SubscriberCount(); got != 0 {
		t.Fatalf("got %d subscribers after unsubscribe, want 0", got)
	}
}
