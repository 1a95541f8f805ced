package events

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus(4)
	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(Event{Type: TypePlantUpdated, PlantID: "p1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case evt := <-ch:
			if evt.PlantID != "p1" || evt.Timestamp.IsZero() {
				t.Fatalf("unexpected event %+v", evt)
			}
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypePlantUpdated, PlantID: "p1"})
	}
	if got := len(ch); got != 2 {
		t.Fatalf("buffered %d events, want 2 with the rest dropped", got)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus(2)
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(Event{Type: TypeWateringEnded, PlantID: "p1"})
}
