package exchange

import "sync"

// DefaultQueueCapacity bounds every topic queue. A push that overflows it
// keeps only the newest half.
const DefaultQueueCapacity = 200

// topicQueue buffers raw frame payloads per topic. A topic has at most one
// pending notification: the first push after a drain signals, later pushes
// only append.
type topicQueue struct {
	mu       sync.Mutex
	capacity int
	items    map[string][][]byte
	signaled map[string]bool
	notify   chan<- string
}

func newTopicQueue(capacity int, notify chan<- string) *topicQueue {
	if capacity < 2 {
		capacity = DefaultQueueCapacity
	}
	return &topicQueue{
		capacity: capacity,
		items:    make(map[string][][]byte),
		signaled: make(map[string]bool),
		notify:   notify,
	}
}

// Push appends msgs in order. When the queue ends up above capacity, the
// oldest entries are dropped until capacity/2 remain.
func (q *topicQueue) Push(topic string, msgs ...[]byte) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	items := append(q.items[topic], msgs...)
	if len(items) > q.capacity {
		keep := q.capacity / 2
		items = append([][]byte(nil), items[len(items)-keep:]...)
	}
	q.items[topic] = items

	send := !q.signaled[topic] && q.notify != nil
	if send {
		q.signaled[topic] = true
	}
	q.mu.Unlock()

	if send {
		q.signal(topic)
	}
}

func (q *topicQueue) signal(topic string) {
	select {
	case q.notify <- topic:
	default:
		// consumer is saturated; allow the next push to retry
		q.mu.Lock()
		q.signaled[topic] = false
		q.mu.Unlock()
	}
}

// Rearm lets the next push notify again while leaving queued frames in place.
func (q *topicQueue) Rearm(topic string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signaled[topic] = false
}

// Resignal notifies every topic that holds frames and has no pending
// notification.
func (q *topicQueue) Resignal() {
	if q.notify == nil {
		return
	}
	q.mu.Lock()
	var topics []string
	for topic, items := range q.items {
		if len(items) > 0 && !q.signaled[topic] {
			q.signaled[topic] = true
			topics = append(topics, topic)
		}
	}
	q.mu.Unlock()

	for _, topic := range topics {
		q.signal(topic)
	}
}

// Drain returns everything queued for topic, oldest first, and re-arms the
// topic's notification.
func (q *topicQueue) Drain(topic string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[topic]
	delete(q.items, topic)
	q.signaled[topic] = false
	return items
}

// Len reports the number of queued payloads for topic.
func (q *topicQueue) Len(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[topic])
}
