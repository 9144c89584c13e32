// Package gojob runs token refreshes on go-job queues.
package gojob

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-shims/core"
)

const JobIDRefreshToken = "shims.token.refresh"

var errNoEnqueuer = errors.New("gojob: enqueuer is not configured")

// RetryPolicy bounds how often a failed refresh goes back on the queue.
// Exhausted and terminal failures are dead-lettered, never dropped.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     worker.BackoffConfig
	MaxDelay    time.Duration
}

// DefaultRetryPolicy runs a job once and dead-letters it on failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) Decide(attempt int, err error) queue.NackOptions {
	opts := worker.DefaultRetryPolicy{MaxAttempts: p.MaxAttempts, Backoff: p.Backoff}.Decide(attempt, err)
	if p.MaxDelay > 0 && opts.Delay > p.MaxDelay {
		opts.Delay = p.MaxDelay
	}
	opts.Reason = strings.TrimSpace(opts.Reason)
	return opts
}

// ToExecutionMessage copies a shim job message into its go-job form. The
// script path is left to the task the worker resolves by job id.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// EnqueuerAdapter lets the core schedule jobs on any go-job enqueuer. Jobs
// with a NotBefore time go through EnqueueAt when the queue can schedule;
// otherwise they are available immediately.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	switch {
	case a == nil || a.enqueuer == nil:
		return errNoEnqueuer
	case msg == nil:
		return errors.New("gojob: execution message is required")
	}
	if !msg.NotBefore.IsZero() {
		if scheduled, ok := a.enqueuer.(queue.ScheduledEnqueuer); ok {
			_, err := scheduled.EnqueueAt(ctx, ToExecutionMessage(msg), msg.NotBefore.UTC())
			return err
		}
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	return err
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer   = (*EnqueuerAdapter)(nil)
	_ worker.RetryPolicy = RetryPolicy{}
)
