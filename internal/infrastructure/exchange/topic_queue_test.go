package exchange

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(from, to int) [][]byte {
	out := make([][]byte, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, []byte(fmt.Sprintf("%d", i)))
	}
	return out
}

func TestTopicQueueBurstKeepsNewestHalf(t *testing.T) {
	q := newTopicQueue(200, nil)
	q.Push("order", frames(0, 250)...)

	got := q.Drain("order")
	require.Len(t, got, 100)
	assert.Equal(t, "150", string(got[0]))
	assert.Equal(t, "249", string(got[99]))
}

func TestTopicQueueAtCapacityKeepsAll(t *testing.T) {
	q := newTopicQueue(200, nil)
	for _, f := range frames(0, 200) {
		q.Push("order", f)
	}
	assert.Equal(t, 200, q.Len("order"))

	q.Push("order", []byte("200"))
	got := q.Drain("order")
	require.Len(t, got, 100)
	assert.Equal(t, "101", string(got[0]))
	assert.Equal(t, "200", string(got[99]))
}

func TestTopicQueueSingleNotificationPerTopic(t *testing.T) {
	notify := make(chan string, 8)
	q := newTopicQueue(200, notify)

	q.Push("order", []byte("a"))
	q.Push("order", []byte("b"))
	q.Push("wallet", []byte("c"))

	require.Len(t, notify, 2)
	assert.Equal(t, "order", <-notify)
	assert.Equal(t, "wallet", <-notify)

	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, q.Drain("order"))
	assert.Empty(t, q.Drain("order"))

	// drained topics signal again
	q.Push("order", []byte("d"))
	require.Len(t, notify, 1)
	assert.Equal(t, "order", <-notify)
}

func TestTopicQueueFullChannelRetriesLater(t *testing.T) {
	notify := make(chan string, 1)
	q := newTopicQueue(200, notify)

	q.Push("a", []byte("1"))
	q.Push("b", []byte("1")) // channel full, not signaled
	assert.Equal(t, "a", <-notify)

	q.Push("b", []byte("2"))
	assert.Equal(t, "b", <-notify)
	assert.Len(t, q.Drain("b"), 2)
}

func TestTopicQueueRearmAndResignal(t *testing.T) {
	notify := make(chan string, 4)
	q := newTopicQueue(200, notify)
	q.Push("order", []byte("1"))
	q.Push("wallet", []byte("2"))
	<-notify
	<-notify

	q.Resignal()
	assert.Empty(t, notify, "pending notifications are not repeated")

	q.Rearm("order")
	q.Resignal()
	require.Len(t, notify, 1)
	assert.Equal(t, "order", <-notify)
	assert.Equal(t, 1, q.Len("order"))
}
