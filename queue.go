package mqtt5

import "sync"

// MessageQueue is an unbounded FIFO of messages waiting for a connection.
// It is safe for concurrent use. Messages are stored by reference and are
// never deduplicated.
type MessageQueue struct {
	mu    sync.Mutex
	items []*Message
	head  int
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Push appends msg to the tail.
func (q *MessageQueue) Push(msg *Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// Poll removes and returns the head. ok is false when the queue is empty.
func (q *MessageQueue) Poll() (msg *Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return nil, false
	}
	msg = q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	} else if q.head > 32 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items, q.head = q.items[:n], 0
	}
	return msg, true
}

// PushFront puts msgs back at the head, ahead of everything queued, in the
// order given.
func (q *MessageQueue) PushFront(msgs ...*Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := q.items[q.head:]
	items := make([]*Message, 0, len(msgs)+len(rest))
	items = append(items, msgs...)
	q.items, q.head = append(items, rest...), 0
}

// Count returns the number of queued messages.
func (q *MessageQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Drain removes and returns every queued message in FIFO order.
func (q *MessageQueue) Drain() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Message, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	q.items, q.head = nil, 0
	return out
}

// Clear discards every queued message.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.items, q.head = nil, 0
	q.mu.Unlock()
}
