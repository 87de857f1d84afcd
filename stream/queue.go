package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a bounded multi-producer, single-consumer FIFO of blocks. When it is full,
// Enqueue evicts the oldest queued block so producers never wait.
type Queue struct {
	sync.Mutex
	buf   []*Block
	head  int
	count int

	ready   chan struct{}
	dropped uint64
}

// NewQueue creates a queue holding at most capacity blocks.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		panic("queue capacity must be at least 1")
	}
	return &Queue{
		buf:   make([]*Block, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int { return len(q.buf) }

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	q.Lock()
	defer q.Unlock()
	return q.count
}

// Dropped returns how many blocks have been evicted to admit newer ones.
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Enqueue adds b to the tail of the queue. It never blocks.
func (q *Queue) Enqueue(b *Block) {
	q.Lock()
	if q.count == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		atomic.AddUint64(&q.dropped, 1)
	}
	q.buf[(q.head+q.count)%len(q.buf)] = b
	q.count++
	q.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() *Block {
	q.Lock()
	defer q.Unlock()
	if q.count == 0 {
		return nil
	}
	b := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return b
}

// Dequeue removes the oldest block, waiting up to timeout for one to arrive.
// It returns false if the timeout expired with the queue still empty.
func (q *Queue) Dequeue(timeout time.Duration) (*Block, bool) {
	if b := q.pop(); b != nil {
		return b, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			if b := q.pop(); b != nil {
				return b, true
			}
		case <-timer.C:
			if b := q.pop(); b != nil {
				return b, true
			}
			return nil, false
		}
	}
}

// Drain discards every queued block and returns how many there were.
func (q *Queue) Drain() int {
	q.Lock()
	defer q.Unlock()
	n := q.count
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head, q.count = 0, 0
	return n
}
