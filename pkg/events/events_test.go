package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningBroker(t *testing.T) *Broker {
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishAssignsSequentialIDsAndTimestamp(t *testing.T) {
	b := newRunningBroker(t)
	sub := b.Subscribe()

	e := &Event{Type: EventStoreCreated, Message: "3"}
	b.Publish(e)

	select {
	case got := <-sub:
		assert.Equal(t, "1", got.ID)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received event")
	}
}

func TestSubscribeWithFilterOnlyReceivesMatchingTypes(t *testing.T) {
	b := newRunningBroker(t)
	sub := b.Subscribe(EventGCTombstoned, EventStoreDeleted)

	b.Publish(&Event{Type: EventStoreCreated, Message: "1"})
	b.Publish(&Event{Type: EventGCTombstoned, Message: "2"})

	select {
	case got := <-sub:
		assert.Equal(t, EventGCTombstoned, got.Type)
		assert.Equal(t, "2", got.Message)
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber never received matching event")
	}

	select {
	case got := <-sub:
		t.Fatalf("filtered subscriber received unexpected event %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newRunningBroker(t)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRecentReturnsBoundedTailOldestFirst(t *testing.T) {
	b := newRunningBroker(t)

	for i := 0; i < 5; i++ {
		b.Publish(&Event{Type: EventStoreAttached})
	}
	require.Eventually(t, func() bool {
		return len(b.Recent(0)) == 5
	}, time.Second, 5*time.Millisecond)

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "4", recent[0].ID)
	assert.Equal(t, "5", recent[1].ID)
}

func TestBroadcastDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := newRunningBroker(t)
	sub := b.Subscribe()

	for i := 0; i < 60; i++ {
		b.Publish(&Event{Type: EventAliasCommitted})
	}
	require.Eventually(t, func() bool {
		return len(b.Recent(0)) == 60
	}, time.Second, 5*time.Millisecond)
	_ = sub
}
