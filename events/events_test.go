package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	assert.Equal(t, 1, bus.Subscriptions())

	bus.Publish(NewCertificatePersisted(12))

	select {
	case ev := <-ch:
		assert.Equal(t, EventCertificatePersisted, ev.Type())
		assert.EqualValues(t, 12, ev.Number())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	require.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.Subscriptions())

	_, open := <-ch
	assert.False(t, open, "channel closed on unsubscribe")
}

func TestEventBus_TypeFilter(t *testing.T) {
	bus := NewEventBus()
	_, certs := bus.Subscribe(EventCertificatePersisted)

	bus.Publish(NewPayloadPersisted(3, [32]byte{}))
	bus.Publish(NewCertificatePersisted(3))

	require.Len(t, certs, 1)
	ev := <-certs
	assert.Equal(t, EventCertificatePersisted, ev.Type())
}

func TestEventBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(NewPayloadPersisted(0, [32]byte{}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}
