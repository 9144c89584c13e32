package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	shimscommand "github.com/goliatone/go-shims/command"
	"github.com/goliatone/go-shims/core"
)

const (
	refreshTaskPath = "shims://token/refresh"

	// TerminalRefreshRejected marks refresh jobs that cannot succeed on retry.
	TerminalRefreshRejected job.TerminalErrorCode = "shims_refresh_rejected"
)

// RefreshScheduler enqueues one refresh job per stored token that can be refreshed.
type RefreshScheduler struct {
	enqueuer core.JobEnqueuer
}

func NewRefreshScheduler(enqueuer core.JobEnqueuer) (*RefreshScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	return &RefreshScheduler{enqueuer: enqueuer}, nil
}

func (s *RefreshScheduler) ScheduleRefresh(ctx context.Context, req core.RefreshTokenRequest, due time.Time) error {
	username := strings.TrimSpace(req.Username)
	domain := strings.TrimSpace(req.Domain)
	if username == "" || domain == "" {
		return fmt.Errorf("gojob: refresh requires username and domain")
	}
	return s.enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
		JobID: JobIDRefreshToken,
		Parameters: map[string]any{
			"username": username,
			"domain":   domain,
		},
		IdempotencyKey: "refresh:" + username + ":" + domain,
		NotBefore:      due,
	})
}

// RefreshTask is the go-job task behind JobIDRefreshToken. It only runs from
// queue deliveries.
type RefreshTask struct {
	refresher gocmd.Commander[shimscommand.RefreshTokenMessage]
}

func NewRefreshTask(refresher gocmd.Commander[shimscommand.RefreshTokenMessage]) (*RefreshTask, error) {
	if refresher == nil {
		return nil, fmt.Errorf("gojob: refresh command is required")
	}
	return &RefreshTask{refresher: refresher}, nil
}

func (t *RefreshTask) GetID() string { return JobIDRefreshToken }

func (t *RefreshTask) GetHandler() func() error {
	return func() error {
		return fmt.Errorf("gojob: %s needs a username and domain; enqueue it instead", JobIDRefreshToken)
	}
}

func (t *RefreshTask) GetHandlerConfig() job.HandlerOptions { return job.HandlerOptions{} }
func (t *RefreshTask) GetConfig() job.Config                { return job.Config{} }
func (t *RefreshTask) GetPath() string                      { return refreshTaskPath }
func (t *RefreshTask) GetEngine() job.Engine                { return nil }

// Execute refreshes the token named by the message parameters. Malformed jobs
// and refreshes the provider or store reject outright come back as terminal
// errors so the worker dead-letters them without retrying.
func (t *RefreshTask) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	params := FromExecutionMessage(msg)
	if params == nil {
		return job.NewTerminalError(TerminalRefreshRejected, "refresh job has no message", nil)
	}
	username, _ := params.Parameters["username"].(string)
	domain, _ := params.Parameters["domain"].(string)
	refresh := shimscommand.RefreshTokenMessage{Request: core.RefreshTokenRequest{Username: username, Domain: domain}}
	if err := refresh.Validate(); err != nil {
		return job.NewTerminalError(TerminalRefreshRejected, err.Error(), err)
	}
	err := t.refresher.Execute(ctx, refresh)
	if err == nil {
		return nil
	}
	if terminalRefreshError(err) {
		return job.NewTerminalError(TerminalRefreshRejected, err.Error(), err)
	}
	return err
}

func terminalRefreshError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch core.MapError(err).TextCode {
	case core.ShimErrorBadInput, core.ShimErrorNotFound, core.ShimErrorUnauthenticated, core.ShimErrorUnsupportedOperation:
		return true
	default:
		return false
	}
}

// NewRefreshWorker builds a go-job worker with the refresh task registered.
// Failed jobs are dead-lettered on the first failure unless opts carry a
// worker.WithRetryPolicy.
func NewRefreshWorker(
	dequeuer queue.Dequeuer,
	refresher gocmd.Commander[shimscommand.RefreshTokenMessage],
	opts ...worker.Option,
) (*worker.Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	task, err := NewRefreshTask(refresher)
	if err != nil {
		return nil, err
	}
	all := append([]worker.Option{worker.WithRetryPolicy(DefaultRetryPolicy())}, opts...)
	w := worker.NewWorker(dequeuer, all...)
	if err := w.Register(task); err != nil {
		return nil, fmt.Errorf("gojob: register refresh task: %w", err)
	}
	return w, nil
}

// MetricsHook reports worker outcomes to a metrics recorder.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(context.Context, worker.Event) {}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "success")
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "failure")
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "retry")
}

func (h *MetricsHook) record(ctx context.Context, event worker.Event, outcome string) {
	if h == nil || h.recorder == nil {
		return
	}
	tags := map[string]string{"job_id": jobID(event.Message), "outcome": outcome}
	h.recorder.IncCounter(ctx, "shims.job.total", 1, tags)
	h.recorder.ObserveHistogram(ctx, "shims.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}

var (
	_ core.RefreshScheduler = (*RefreshScheduler)(nil)
	_ job.Task              = (*RefreshTask)(nil)
	_ worker.Hook           = (*MetricsHook)(nil)
)
