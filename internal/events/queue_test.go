package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainReturnsEventsInEmissionOrder(t *testing.T) {
	q := NewQueue()
	q.Push(ClientFailure{Reason: "one"})
	q.Push(ClientFailure{Reason: "two"})
	q.Push(ClientFailure{Reason: "three"})

	drained := q.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "one", drained[0].(ClientFailure).Reason)
	assert.Equal(t, "two", drained[1].(ClientFailure).Reason)
	assert.Equal(t, "three", drained[2].(ClientFailure).Reason)
}

func TestDrainClearsTheQueue(t *testing.T) {
	q := NewQueue()
	q.Push(ClientFailure{Reason: "one"})
	q.Drain()

	assert.Nil(t, q.Drain())
}

func TestWaitNextBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	done := make(chan Event, 1)

	go func() {
		done <- q.WaitNext()
	}()

	select {
	case <-done:
		t.Fatal("WaitNext returned before any event was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(ClientFailure{Reason: "woken"})

	select {
	case e := <-done:
		assert.Equal(t, "woken", e.(ClientFailure).Reason)
	case <-time.After(time.Second):
		t.Fatal("WaitNext did not wake on push")
	}
}

func TestWaitNextReturnsEventsInFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Push(ClientFailure{Reason: "first"})
	q.Push(ClientFailure{Reason: "second"})

	first := q.WaitNext()
	second := q.WaitNext()

	assert.Equal(t, "first", first.(ClientFailure).Reason)
	assert.Equal(t, "second", second.(ClientFailure).Reason)
}
