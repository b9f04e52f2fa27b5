package engine_test

import (
	"testing"

	"github.com/seantiz/anvil/internal/engine"
)

func TestBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	statuses := []string{"submitting", "processing", "completed"}
	for _, s := range statuses {
		b.Publish("j1", engine.Event{JobID: "j1", Status: s})
	}
	b.Close("j1")

	var got []string
	for ev := range ch {
		got = append(got, ev.Status)
	}

	if len(got) != len(statuses) {
		t.Fatalf("got %d events, want %d", len(got), len(statuses))
	}
	for i, s := range got {
		if s != statuses[i] {
			t.Errorf("event[%d] status = %q, want %q", i, s, statuses[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Publish("j1", engine.Event{JobID: "j1", Status: "processing"})
	b.Close("j1")

	var got1, got2 []engine.Event
	for ev := range ch1 {
		got1 = append(got1, ev)
	}
	for ev := range ch2 {
		got2 = append(got2, ev)
	}

	if len(got1) != 1 || got1[0].Status != "processing" {
		t.Errorf("subscriber 1 got %v, want one processing event", got1)
	}
	if len(got2) != 1 || got2[0].Status != "processing" {
		t.Errorf("subscriber 2 got %v, want one processing event", got2)
	}
}

func TestBrokerCloseClosesChannels(t *testing.T) {
	b := engine.NewBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	b.Close("j1")

	// Channel should be closed; reading should return zero value immediately.
	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after Close()")
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewBroker()
	b.Publish("j1", engine.Event{JobID: "j1", Status: "processing"})
	b.Close("j1")

	// Subscribing after Close yields an already-closed channel.
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	_, ok := <-ch
	if ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewBroker()
	ch, unsub := b.Subscribe("j1")
	unsub()

	b.Publish("j1", engine.Event{JobID: "j1", Status: "processing"})
	b.Close("j1")

	// The channel should have no events (we unsubscribed before publish).
	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %v after unsubscribe", ev)
		}
	default:
		// No data, as expected.
	}
}

func TestBrokerPublishToUnknownJobIsNoop(t *testing.T) {
	b := engine.NewBroker()
	// Should not panic.
	b.Publish("nonexistent", engine.Event{Status: "processing"})
	b.Close("nonexistent")
}

func TestBrokerLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := engine.NewBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()

	b.Publish("j1", engine.Event{JobID: "j1", Status: "submitting"})

	// Late subscriber joins after the first event.
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Publish("j1", engine.Event{JobID: "j1", Status: "processing"})
	b.Close("j1")

	var got1, got2 []engine.Event
	for ev := range ch1 {
		got1 = append(got1, ev)
	}
	for ev := range ch2 {
		got2 = append(got2, ev)
	}

	if len(got1) != 2 {
		t.Errorf("subscriber 1 got %d events, want 2", len(got1))
	}
	if len(got2) != 1 || got2[0].Status != "processing" {
		t.Errorf("late subscriber got %v, want one processing event", got2)
	}
}
