package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
)

// DeadLetter is a message the queue gave up on.
type DeadLetter struct {
	DispatchID  string
	Message     *job.ExecutionMessage
	Disposition queue.NackDisposition
	Reason      string
	Attempts    int
	At          time.Time
}

type memoryEntry struct {
	dispatchID  string
	msg         *job.ExecutionMessage
	attempts    int
	availableAt time.Time
}

// MemoryQueue is an in-process queue for single-node deployments and tests.
// Pending messages with the same idempotency key are collapsed. Dequeue
// returns a nil delivery when nothing is available yet, like the SQL adapter.
type MemoryQueue struct {
	Now func() time.Time

	mu          sync.Mutex
	pending     []*memoryEntry
	inflight    int
	deadLetters []DeadLetter
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	return q.EnqueueAt(ctx, msg, time.Time{})
}

func (q *MemoryQueue) EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) (queue.EnqueueReceipt, error) {
	if delay < 0 {
		delay = 0
	}
	return q.EnqueueAt(ctx, msg, q.now().Add(delay))
}

// EnqueueAt holds msg until at. A pending message with the same idempotency
// key keeps its place and its original availability.
func (q *MemoryQueue) EnqueueAt(_ context.Context, msg *job.ExecutionMessage, at time.Time) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		for _, pending := range q.pending {
			if pending.msg.IdempotencyKey == key {
				return queue.EnqueueReceipt{DispatchID: pending.dispatchID, EnqueuedAt: now}, nil
			}
		}
	}
	entry := &memoryEntry{dispatchID: uuid.NewString(), msg: msg, availableAt: at.UTC()}
	q.pending = append(q.pending, entry)
	return queue.EnqueueReceipt{DispatchID: entry.dispatchID, EnqueuedAt: now}, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, entry := range q.pending {
		if entry.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		entry.attempts++
		q.inflight++
		return &memoryDelivery{queue: q, entry: entry}, nil
	}
	return nil, nil
}

// Len counts pending messages, including ones scheduled for later and
// excluding deliveries that are being worked on.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether nothing is pending or in flight.
func (q *MemoryQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.inflight == 0
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

func (q *MemoryQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func (q *MemoryQueue) settle(entry *memoryEntry, opts queue.NackOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	switch opts.Disposition {
	case "":
		return
	case queue.NackDispositionRetry:
		entry.availableAt = time.Time{}
		if opts.Delay > 0 {
			entry.availableAt = q.now().Add(opts.Delay)
		}
		q.pending = append(q.pending, entry)
	default:
		q.deadLetters = append(q.deadLetters, DeadLetter{
			DispatchID:  entry.dispatchID,
			Message:     entry.msg,
			Disposition: opts.Disposition,
			Reason:      opts.Reason,
			Attempts:    entry.attempts,
			At:          q.now(),
		})
	}
}

type memoryDelivery struct {
	queue   *MemoryQueue
	entry   *memoryEntry
	settled sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.entry.msg
}

// Attempts is read by the worker when it consults the retry policy.
func (d *memoryDelivery) Attempts() int {
	return d.entry.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.settled.Do(func() {
		d.queue.settle(d.entry, queue.NackOptions{})
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("gojob: %w", err)
	}
	d.settled.Do(func() {
		d.queue.settle(d.entry, opts)
	})
	return nil
}

var (
	_ queue.ScheduledEnqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer          = (*MemoryQueue)(nil)
	_ queue.Delivery          = (*memoryDelivery)(nil)
)
