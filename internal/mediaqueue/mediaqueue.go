// Package mediaqueue implements the bounded, single-producer/single-consumer
// byte queue that the connection driver and a published stream's
// media-forwarding side hand reassembled media across: a mutex, a not-empty
// condition variable, and an explicit end-of-stream flag, with no other
// shared mutable state. The producer side is an RTMP connection goroutine
// handing off audio/video payload bytes; the consumer blocks until data,
// EOF or a timeout arrive.
package mediaqueue

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Write once the queue has been closed.
var ErrClosed = errors.New("mediaqueue: closed")

// chunk is one producer-side Write, queued whole; Read drains chunks in
// order, partially consuming the head chunk if the caller's buffer is
// smaller than it.
type chunk struct {
	data []byte
	off  int
}

// Queue is a bounded byte queue with an end-of-stream flag. The zero value
// is not usable; construct with New.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	chunks   []chunk
	buffered int
	capacity int

	closed  bool
	eof     bool
	failure error
}

// New creates a Queue that discards its oldest buffered chunks once more
// than capacity bytes are buffered and not yet read.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Write appends data to the queue. It never blocks on capacity: per the
// design notes the producer is the connection's own read loop, and
// backpressure here would stall acknowledgement of the encoder, so a full
// queue instead drops the oldest buffered chunks (never the newest one)
// until the total fits again. Dropped chunks are not counted or reported.
func (q *Queue) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	q.chunks = append(q.chunks, chunk{data: cp})
	q.buffered += len(cp)

	for q.buffered > q.capacity && len(q.chunks) > 1 {
		dropped := q.chunks[0]
		q.buffered -= len(dropped.data) - dropped.off
		q.chunks = q.chunks[1:]
	}

	q.notEmpty.Signal()
	return nil
}

// Read copies as much available data into p as fits, blocking until at
// least one byte is available, end-of-stream is signalled, the queue
// fails, or timeout elapses with the queue empty. A timeout of zero blocks
// indefinitely. An empty-queue timeout sets end-of-stream itself, so a
// stalled producer is indistinguishable from a clean CloseWithEOF to the
// reader.
func (q *Queue) Read(p []byte, timeout time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buffered == 0 && !q.eof && q.failure == nil {
		if timeout <= 0 {
			for q.buffered == 0 && !q.eof && q.failure == nil {
				q.notEmpty.Wait()
			}
		} else {
			deadline := time.Now().Add(timeout)
			done := make(chan struct{})
			timedOut := false
			go func() {
				select {
				case <-time.After(time.Until(deadline)):
					q.mu.Lock()
					timedOut = true
					q.notEmpty.Broadcast()
					q.mu.Unlock()
				case <-done:
				}
			}()
			for q.buffered == 0 && !q.eof && q.failure == nil && !timedOut {
				q.notEmpty.Wait()
			}
			close(done)
			if timedOut && q.buffered == 0 && !q.eof && q.failure == nil {
				q.eof = true
			}
		}
	}

	if q.failure != nil {
		return 0, q.failure
	}

	n := 0
	for n < len(p) && len(q.chunks) > 0 {
		head := &q.chunks[0]
		copied := copy(p[n:], head.data[head.off:])
		n += copied
		head.off += copied
		q.buffered -= copied
		if head.off == len(head.data) {
			q.chunks = q.chunks[1:]
		}
	}
	if n > 0 {
		return n, nil
	}
	return 0, nil
}

// CloseWithEOF marks the queue as having no further data, waking any
// blocked reader.
func (q *Queue) CloseWithEOF() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.eof = true
	q.closed = true
	q.notEmpty.Broadcast()
}

// Fail marks the queue as having failed, surfacing err to the next and any
// blocked Read.
func (q *Queue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failure == nil {
		q.failure = err
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Buffered reports the number of unread bytes currently queued.
func (q *Queue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffered
}
