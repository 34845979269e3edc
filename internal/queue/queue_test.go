package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHolderSignalsOnEnqueue(t *testing.T) {
	h := NewHolder(New[string](4))
	select {
	case <-h.Wait():
		t.Fatal("must not be ready before anything was enqueued")
	default:
	}
	h.Enqueue("a")
	q := <-h.Wait()
	assert.Equal(t, "a", *q.Dequeue())
	h.Release(q)
	assert.Equal(t, 0, h.Len())
}

func TestPriorityBufferOrdersDescendingWithFIFOTieBreak(t *testing.T) {
	var b PriorityBuffer[string]
	b.Push("low-first", 1, 0)
	b.Push("high", 9, 1)
	b.Push("low-second", 1, 2)

	v, ok := b.Pop()
	assert.True(t, ok)
	assert.Equal(t, "high", v)

	v, _ = b.Pop()
	assert.Equal(t, "low-first", v)

	v, _ = b.Pop()
	assert.Equal(t, "low-second", v)

	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestPriorityBufferNeverReordersAcrossPops(t *testing.T) {
	var b PriorityBuffer[int]
	b.Push(1, 1, 0)
	v, _ := b.Pop()
	assert.Equal(t, 1, v)

	// a later, higher-priority arrival cannot reach back for the popped item
	b.Push(2, 9, 1)
	v, _ = b.Pop()
	assert.Equal(t, 2, v)
}
