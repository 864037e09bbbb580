package notify

import "testing"

func TestSubscriberReceivesOnlyEventsAfterSubscription(t *testing.T) {
	notifier := New[int]("test", 8)
	notifier.Send(1)

	events, unsubscribe := notifier.Subscribe()
	defer unsubscribe()
	notifier.Send(2)

	select {
	case got := <-events:
		if got != 2 {
			t.Fatalf("expected 2, got %d", got)
		}
	default:
		t.Fatal("expected an event")
	}
	select {
	case got := <-events:
		t.Fatalf("unexpected extra event %d", got)
	default:
	}
}

func TestSendWithoutSubscribersIsNotFatal(t *testing.T) {
	notifier := New[string]("test", 8)
	notifier.Send("nobody listening")
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	notifier := New[int]("test", 2)
	events, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	notifier.Send(1)
	notifier.Send(2)
	notifier.Send(3) // drops 1

	if got := <-events; got != 2 {
		t.Fatalf("expected 2 after dropping oldest, got %d", got)
	}
	if got := <-events; got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	notifier := New[int]("test", 2)
	events, unsubscribe := notifier.Subscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel")
	}
	if count := notifier.SubscriberCount(); count != 0 {
		t.Fatalf("expected 0 subscribers, got %d", count)
	}

	// A second unsubscribe is a no-op.
	unsubscribe()
}
