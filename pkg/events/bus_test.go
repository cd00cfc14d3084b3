package events

import (
	"errors"
	"testing"
)

func TestBus(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"DeliverByKind", testDeliverByKind},
		{"DeliverWildcard", testDeliverWildcard},
		{"SuppressDropsEvents", testSuppressDropsEvents},
		{"ResumeRestoresDelivery", testResumeRestoresDelivery},
		{"SubscriberErrorDoesNotStopDelivery", testSubscriberErrorDoesNotStopDelivery},
		{"PublishOnNilBus", testPublishOnNilBus},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testDeliverByKind(t *testing.T) {
	b := NewBus(nil)

	var courseEvents, runEvents []Event
	b.Subscribe("course", func(e Event) error {
		courseEvents = append(courseEvents, e)
		return nil
	})
	b.Subscribe("course_run", func(e Event) error {
		runEvents = append(runEvents, e)
		return nil
	})

	b.Publish(Event{Kind: "course", ID: 1, Action: ActionCreated})
	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})
	b.Publish(Event{Kind: "course_run", ID: 2, Action: ActionCreated})

	if len(courseEvents) != 2 {
		t.Fatalf("course events = %d, want 2", len(courseEvents))
	}
	if courseEvents[0].Action != ActionCreated || courseEvents[1].Action != ActionUpdated {
		t.Errorf("course events out of order: %v", courseEvents)
	}
	if len(runEvents) != 1 {
		t.Fatalf("course_run events = %d, want 1", len(runEvents))
	}
}

func testDeliverWildcard(t *testing.T) {
	b := NewBus(nil)

	var got []Event
	b.Subscribe(KindAny, func(e Event) error {
		got = append(got, e)
		return nil
	})

	b.Publish(Event{Kind: "course", ID: 1, Action: ActionCreated})
	b.Publish(Event{Kind: "program", ID: 2, Action: ActionDeleted})

	if len(got) != 2 {
		t.Fatalf("wildcard events = %d, want 2", len(got))
	}
}

func testSuppressDropsEvents(t *testing.T) {
	b := NewBus(nil)

	count := 0
	b.Subscribe("course", func(Event) error {
		count++
		return nil
	})

	b.Suppress()
	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})

	if count != 0 {
		t.Fatalf("events delivered while suppressed = %d, want 0", count)
	}
	if !b.Suppressed() {
		t.Error("Suppressed() = false, want true")
	}
}

func testResumeRestoresDelivery(t *testing.T) {
	b := NewBus(nil)

	count := 0
	b.Subscribe("course", func(Event) error {
		count++
		return nil
	})

	b.Suppress()
	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})
	b.Resume()
	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})

	if count != 1 {
		t.Fatalf("events delivered = %d, want 1", count)
	}
}

func testSubscriberErrorDoesNotStopDelivery(t *testing.T) {
	b := NewBus(nil)

	b.Subscribe("course", func(Event) error {
		return errors.New("subscriber broke")
	})

	delivered := false
	b.Subscribe("course", func(Event) error {
		delivered = true
		return nil
	})

	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})

	if !delivered {
		t.Fatal("second subscriber not reached after first errored")
	}
}

func testPublishOnNilBus(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Kind: "course", ID: 1, Action: ActionUpdated})
	b.Suppress()
	b.Resume()
}
