package bridge

import (
	"context"
	"log/slog"
	"time"
)

// ResponseQueue is a bounded FIFO of Messages heading upstream. Producers
// (downstream readers) call Add with an enqueue timeout; the Queue→WS
// consumer calls Get with a dequeue timeout that, on expiry, just logs and
// re-waits rather than aborting.
//
// ResponseQueue also owns the correlation-table cleanup task, since both
// are scoped to the lifetime of a single upstream connection.
type ResponseQueue struct {
	ch  chan Message
	log *slog.Logger

	corr *CorrelationTable

	stop chan struct{}
	done chan struct{}
}

// NewResponseQueue returns a queue with the fixed capacity the spec
// mandates, and starts its correlation-table cleanup loop.
func NewResponseQueue(log *slog.Logger) *ResponseQueue {
	q := &ResponseQueue{
		ch:   make(chan Message, QueueCapacity),
		log:  log,
		corr: NewCorrelationTable(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.cleanupLoop()
	return q
}

// Correlation returns the queue's correlation table.
func (q *ResponseQueue) Correlation() *CorrelationTable {
	return q.corr
}

// Add enqueues message. If the queue is full it waits up to EnqueueTimeout
// for room; if none frees up in that time it logs, drops the message and
// returns ErrQueueFull (see DESIGN.md Open Questions: queue-full semantics).
func (q *ResponseQueue) Add(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(EnqueueTimeout)
	defer timer.Stop()
	select {
	case q.ch <- msg:
		return nil
	case <-timer.C:
		q.log.Error("response queue is full, dropping message")
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues one Message, waiting up to DequeueTimeout. On expiry it logs
// a warning and returns (nil, false) so the caller can simply loop again —
// a dequeue timeout is not an error condition.
func (q *ResponseQueue) Get(ctx context.Context) (Message, bool) {
	timer := time.NewTimer(DequeueTimeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, true
	case <-timer.C:
		q.log.Warn("timeout while getting message from queue")
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Len reports the current number of queued messages.
func (q *ResponseQueue) Len() int {
	return len(q.ch)
}

// Stop cancels the cleanup task and waits for it to exit.
func (q *ResponseQueue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *ResponseQueue) cleanupLoop() {
	defer close(q.done)
	ticker := time.NewTicker(CorrelationSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, name := range q.corr.Evict(CorrelationTTL) {
				q.log.Warn("cleaned up expired tool request", "tool", name)
			}
		case <-q.stop:
			return
		}
	}
}
