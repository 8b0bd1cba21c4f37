package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(ChanBotStatus, 4)
	defer unsub()

	b.Publish(ChanBotStatus, "hello")
	b.Publish(ChanTrade, "wrong channel")

	select {
	case got := <-ch:
		if got != "hello" {
			t.Fatalf("payload = %v", got)
		}
	default:
		t.Fatal("no payload delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected payload %v", got)
	default:
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(ChanTrade, 1)
	defer unsub()

	// Buffer of one; extra publishes are dropped, not blocked on.
	for i := 0; i < 100; i++ {
		b.Publish(ChanTrade, i)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(ChanRiskAlert, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe is a no-op.
	b.Publish(ChanRiskAlert, "late")
}
