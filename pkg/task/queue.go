// SPDX-License-Identifier: Apache-2.0
// Package task runs the per-agent task runtime: bounded event queues, one
// dispatch fiber per task, a pending-completion registry and the inter-agent
// relay.
package task

import (
	"sync"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/event"
)

// DefaultQueueSize bounds a task queue when no capacity is configured.
const DefaultQueueSize = 64

// Queue is a bounded event queue with non-blocking enqueue. Single consumer;
// concurrent producers are safe.
type Queue struct {
	ch     chan event.Envelope
	mu     sync.Mutex
	closed bool
}

// NewQueue builds a queue with the given capacity, or DefaultQueueSize when
// capacity is not positive.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan event.Envelope, capacity)}
}

// Enqueue offers an envelope without blocking. A full or closed queue is an
// error surfaced to the producer.
func (q *Queue) Enqueue(env event.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New(errors.KindQueueFull, "queue closed", nil).
			WithRecoverable(false)
	}
	select {
	case q.ch <- env:
		return nil
	default:
		return errors.New(errors.KindQueueFull, "task queue full", nil).
			WithContext("capacity", cap(q.ch))
	}
}

// C returns the receive side for the consuming fiber.
func (q *Queue) C() <-chan event.Envelope { return q.ch }

// Len reports the number of queued envelopes.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue. Enqueue fails afterwards; the consumer drains what
// remains and then sees the channel close.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
