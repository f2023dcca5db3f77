package events

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.Publish(TripExpired{TripID: "t1"})

	for i, ch := range []<-chan Event{s1, s2} {
		select {
		case ev := <-ch:
			if ev.(TripExpired).TripID != "t1" {
				t.Errorf("subscriber %d got wrong event: %#v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if _, open := <-sub; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// publishing after unsubscribe must not panic
	b.Publish(TripCreated{})
}

func TestBusPublishAfterClose(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	b.Close()
	b.Publish(TripCreated{})
	if _, open := <-sub; open {
		t.Fatal("channel should be closed")
	}
}
