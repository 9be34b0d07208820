package bus

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker() *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// TestPublishOrder verifies a reading subscriber sees every event in
// publish order with no resync flags.
func TestPublishOrder(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeMemoryChange, Data: Data{Action: ActionAdd, File: fmt.Sprintf("f%d.md", i)}})
	}

	for i := 0; i < 10; i++ {
		e := <-sub.C
		assert.Equal(t, fmt.Sprintf("f%d.md", i), e.Data.File)
		assert.False(t, e.Data.ResyncNeeded)
	}
}

// TestOverflowDropsOldest verifies a full queue loses its oldest events and
// flags the delivery that follows.
func TestOverflowDropsOldest(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	sub := b.Subscribe()

	total := DefaultQueueSize + 6
	for i := 0; i < total; i++ {
		b.Publish(Event{Type: TypeTaskChange, Data: Data{Action: ActionChange, File: fmt.Sprintf("f%d", i)}})
	}

	first := <-sub.C
	assert.Equal(t, "f6", first.Data.File, "the six oldest were dropped")

	sawResync := false
	for i := 0; i < DefaultQueueSize-1; i++ {
		e := <-sub.C
		if e.Data.ResyncNeeded {
			sawResync = true
		}
	}
	assert.True(t, sawResync, "a delivery after the drop carries resync_needed")

	select {
	case e := <-sub.C:
		t.Fatalf("queue should be drained, got %v", e)
	default:
	}
}

// TestResyncFlagClearsAfterRecovery verifies the flag stops once the
// subscriber catches up.
func TestResyncFlagClearsAfterRecovery(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	sub := b.Subscribe()

	for i := 0; i < DefaultQueueSize+1; i++ {
		b.Publish(Event{Type: TypeMemoryChange, Data: Data{Action: ActionChange, File: "burst"}})
	}
	// Drain the backlog.
	for i := 0; i < DefaultQueueSize; i++ {
		<-sub.C
	}

	b.Publish(Event{Type: TypeMemoryChange, Data: Data{Action: ActionChange, File: "flagged"}})
	e := <-sub.C
	assert.True(t, e.Data.ResyncNeeded, "first event after falling behind is flagged")

	b.Publish(Event{Type: TypeMemoryChange, Data: Data{Action: ActionChange, File: "clean"}})
	e = <-sub.C
	assert.False(t, e.Data.ResyncNeeded, "flag clears after a clean delivery")
}

// TestUnsubscribeCloses verifies unsubscribe closes the channel and stops
// delivery.
func TestUnsubscribeCloses(t *testing.T) {
	b := newTestBroker()
	defer b.Close()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

// TestCloseBroker verifies Close shuts every subscription down and later
// publishes are dropped.
func TestCloseBroker(t *testing.T) {
	b := newTestBroker()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Close()
	_, open := <-s1.C
	assert.False(t, open)
	_, open = <-s2.C
	assert.False(t, open)

	b.Publish(Event{Type: TypeMemoryChange})
	b.Close()

	late := b.Subscribe()
	_, open = <-late.C
	assert.False(t, open, "subscribing after close yields a closed channel")
}
