package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	b.Publish(Change{Table: "interfaces", Target: "t1", Key: "1", Kind: Upserted})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case c := <-sub:
			assert.Equal(t, "interfaces", c.Table)
			assert.Equal(t, Upserted, c.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the published change")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel must be closed after Unsubscribe")
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Overfill the subscriber's buffer; broadcast must drop rather than
	// block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Change{Table: "interfaces", Key: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked instead of dropping on a full subscriber buffer")
	}
}

func TestStopEndsDistributionLoop(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Stop()

	// Publish after Stop must not hang: with stopCh closed, Publish's select
	// always has a ready case (stopCh, or room left in the intake buffer).
	done := make(chan struct{})
	go func() {
		b.Publish(Change{Table: "interfaces"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish hung after the broker was stopped")
	}
	_ = sub
}
