package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	shimscommand "github.com/goliatone/go-shims/command"
	"github.com/goliatone/go-shims/core"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDRefreshToken,
		Parameters:     map[string]any{"username": "alice"},
		IdempotencyKey: "idem-1",
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	if converted.ScriptPath != "" {
		t.Fatalf("expected the task to supply the script path, got %q", converted.ScriptPath)
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.Parameters["username"] != "alice" {
		t.Fatalf("expected parameters to survive mapping")
	}
}

func TestRetryPolicy_Decide(t *testing.T) {
	bounded := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     worker.BackoffConfig{Strategy: worker.BackoffFixed, Interval: 30 * time.Second},
		MaxDelay:    10 * time.Second,
	}
	transient := errors.New("transient")
	terminal := job.NewTerminalError(TerminalRefreshRejected, "token not found", nil)

	cases := []struct {
		name        string
		policy      RetryPolicy
		attempt     int
		err         error
		disposition queue.NackDisposition
		delay       time.Duration
		reason      string
	}{
		{"default dead-letters first failure", DefaultRetryPolicy(), 1, transient, queue.NackDispositionDeadLetter, 0, "transient"},
		{"retry delay is bounded", bounded, 1, transient, queue.NackDispositionRetry, 10 * time.Second, "transient"},
		{"last attempt dead-letters", bounded, 3, transient, queue.NackDispositionDeadLetter, 0, "transient"},
		{"terminal errors skip retries", bounded, 1, terminal, queue.NackDispositionDeadLetter, 0, "token not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.policy.Decide(tc.attempt, tc.err)
			if opts.Disposition != tc.disposition || opts.Delay != tc.delay || opts.Reason != tc.reason {
				t.Fatalf("unexpected nack options %#v", opts)
			}
			if err := queue.ValidateNackOptions(opts); err != nil {
				t.Fatalf("expected valid nack options: %v", err)
			}
		})
	}
}

func TestMemoryQueue_CollapsesPendingDuplicates(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	scheduler, err := NewRefreshScheduler(NewEnqueuerAdapter(q))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "alice", Domain: "fitbit"}, time.Time{}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "bob", Domain: "fitbit"}, time.Time{}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected two pending jobs, got %d", q.Len())
	}
	if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "alice"}, time.Time{}); err == nil {
		t.Fatalf("expected missing domain to fail")
	}
}

func TestMemoryQueue_SettlesByDisposition(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	first, err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDRefreshToken, IdempotencyKey: "refresh:alice:fitbit"})
	if err != nil || first.DispatchID == "" {
		t.Fatalf("enqueue: receipt=%#v err=%v", first, err)
	}
	again, err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDRefreshToken, IdempotencyKey: "refresh:alice:fitbit"})
	if err != nil || again.DispatchID != first.DispatchID {
		t.Fatalf("expected collapsed enqueue to reuse dispatch %q, got %#v (%v)", first.DispatchID, again, err)
	}

	delivery := mustDequeue(t, q)
	if err := delivery.Nack(ctx, queue.NackOptions{Reason: "no disposition"}); err == nil {
		t.Fatalf("expected nack without disposition to be rejected")
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionRetry, Reason: "transient"}); err != nil {
		t.Fatalf("nack retry: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected retried message back on the queue, got %d", q.Len())
	}

	delivery = mustDequeue(t, q)
	if attempts := delivery.(interface{ Attempts() int }).Attempts(); attempts != 2 {
		t.Fatalf("expected second attempt, got %d", attempts)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: "gave up"}); err != nil {
		t.Fatalf("nack dead letter: %v", err)
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].DispatchID != first.DispatchID || dead[0].Attempts != 2 ||
		dead[0].Disposition != queue.NackDispositionDeadLetter || dead[0].Reason != "gave up" {
		t.Fatalf("unexpected dead letters %#v", dead)
	}
	if !q.Idle() {
		t.Fatalf("expected queue to be idle")
	}
	if next, err := q.Dequeue(ctx); next != nil || err != nil {
		t.Fatalf("expected empty dequeue, got %v (%v)", next, err)
	}
}

func TestMemoryQueue_DelayedRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	q.Now = func() time.Time { return now }
	if _, err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDRefreshToken}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery := mustDequeue(t, q)
	if err := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: 20 * time.Second}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if next, err := q.Dequeue(ctx); next != nil || err != nil {
		t.Fatalf("expected delayed retry to be held back, got %v (%v)", next, err)
	}
	if q.Len() != 1 || q.Idle() {
		t.Fatalf("expected the delayed retry to stay pending")
	}
	now = now.Add(20 * time.Second)
	if attempts := mustDequeue(t, q).(interface{ Attempts() int }).Attempts(); attempts != 2 {
		t.Fatalf("expected second attempt, got %d", attempts)
	}
}

func TestRefreshScheduler_HoldsJobsUntilDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	q.Now = func() time.Time { return now }
	scheduler, err := NewRefreshScheduler(NewEnqueuerAdapter(q))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "alice", Domain: "fitbit"}, now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule alice: %v", err)
	}
	if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "bob", Domain: "fitbit"}, now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule bob: %v", err)
	}

	delivery := mustDequeue(t, q)
	if got := delivery.Message().Parameters["username"]; got != "bob" {
		t.Fatalf("expected the overdue refresh first, got %v", got)
	}
	if next, err := q.Dequeue(ctx); next != nil || err != nil {
		t.Fatalf("expected alice to wait until due, got %v (%v)", next, err)
	}
	now = now.Add(time.Hour)
	if got := mustDequeue(t, q).Message().Parameters["username"]; got != "alice" {
		t.Fatalf("expected alice once due, got %v", got)
	}
}

func TestMemoryQueue_DequeueHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryQueue().Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestRefreshWorker_RunsJobsOnceAndDeadLettersFailures(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	scheduler, err := NewRefreshScheduler(NewEnqueuerAdapter(q))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	for _, username := range []string{"alice", "bob"} {
		if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: username, Domain: "withings"}, time.Time{}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	refresher := &stubRefresher{fail: map[string]error{"bob": errors.New("provider down")}}
	recorder := &capturingRecorder{}
	w, err := NewRefreshWorker(q, refresher,
		worker.WithHooks(NewMetricsHook(recorder)),
		worker.WithIdleDelay(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	runWorker(t, w, func() bool { return recorder.total() == 2 })

	calls := refresher.snapshot()
	if len(calls) != 2 || calls[0].Username != "alice" || calls[1].Domain != "withings" {
		t.Fatalf("unexpected refresh calls %#v", calls)
	}
	if q.Len() != 0 {
		t.Fatalf("expected failed job not to be requeued, got %d pending", q.Len())
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Reason != "provider down" || dead[0].Message.Parameters["username"] != "bob" {
		t.Fatalf("unexpected dead letters %#v", dead)
	}
	if recorder.count("success") != 1 || recorder.count("failure") != 1 {
		t.Fatalf("expected one success and one failure, got %#v", recorder.snapshot())
	}
}

func TestRefreshWorker_RetriesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	scheduler, _ := NewRefreshScheduler(NewEnqueuerAdapter(q))
	if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: "bob", Domain: "withings"}, time.Time{}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	refresher := &stubRefresher{fail: map[string]error{"bob": errors.New("provider down")}}
	recorder := &capturingRecorder{}
	w, err := NewRefreshWorker(q, refresher,
		worker.WithRetryPolicy(RetryPolicy{MaxAttempts: 3}),
		worker.WithHooks(NewMetricsHook(recorder)),
		worker.WithIdleDelay(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	runWorker(t, w, func() bool { return recorder.count("failure") == 1 })

	if calls := refresher.snapshot(); len(calls) != 3 {
		t.Fatalf("expected three attempts, got %d", len(calls))
	}
	if recorder.count("retry") != 2 {
		t.Fatalf("expected two retries, got %#v", recorder.snapshot())
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Attempts != 3 {
		t.Fatalf("expected one dead letter after three attempts, got %#v", dead)
	}
}

func TestRefreshWorker_RejectedRefreshSkipsRetries(t *testing.T) {
	cases := map[string]struct {
		params map[string]any
		err    error
		calls  int
	}{
		"token not found": {
			params: map[string]any{"username": "carol", "domain": "withings"},
			err:    core.NewNotFoundError("no token for carol", nil),
			calls:  1,
		},
		"missing domain": {
			params: map[string]any{"username": "carol"},
			calls:  0,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := NewMemoryQueue()
			if _, err := q.Enqueue(context.Background(), &job.ExecutionMessage{JobID: JobIDRefreshToken, Parameters: tc.params}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			refresher := &stubRefresher{fail: map[string]error{"carol": tc.err}}
			w, err := NewRefreshWorker(q, refresher,
				worker.WithRetryPolicy(RetryPolicy{MaxAttempts: 5}),
				worker.WithIdleDelay(time.Millisecond),
			)
			if err != nil {
				t.Fatalf("new worker: %v", err)
			}
			runWorker(t, w, func() bool { return len(q.DeadLetters()) == 1 })
			if calls := refresher.snapshot(); len(calls) != tc.calls {
				t.Fatalf("expected %d refresh calls, got %d", tc.calls, len(calls))
			}
			if q.Len() != 0 {
				t.Fatalf("expected rejected job not to be requeued")
			}
		})
	}
}

func TestRefreshWorker_DeadLettersUnknownJobs(t *testing.T) {
	q := NewMemoryQueue()
	if _, err := q.Enqueue(context.Background(), &job.ExecutionMessage{JobID: "shims.unknown"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	refresher := &stubRefresher{}
	w, err := NewRefreshWorker(q, refresher, worker.WithIdleDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	runWorker(t, w, func() bool { return len(q.DeadLetters()) == 1 })
	if len(refresher.snapshot()) != 0 {
		t.Fatalf("expected unknown job to be dead-lettered without running")
	}
	if reason := q.DeadLetters()[0].Reason; reason != "task not registered" {
		t.Fatalf("unexpected dead letter reason %q", reason)
	}
}

func TestNewRefreshWorker_RegistersRefreshTask(t *testing.T) {
	w, err := NewRefreshWorker(NewMemoryQueue(), &stubRefresher{})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	tasks := w.RegisteredTasks()
	if len(tasks) != 1 || tasks[0].GetID() != JobIDRefreshToken || tasks[0].GetPath() == "" {
		t.Fatalf("unexpected registered tasks %#v", tasks)
	}
	if err := tasks[0].GetHandler()(); err == nil {
		t.Fatalf("expected the refresh task to refuse running without a message")
	}
}

func TestNewRefreshWorker_RequiresDependencies(t *testing.T) {
	if _, err := NewRefreshWorker(nil, &stubRefresher{}); err == nil {
		t.Fatalf("expected missing dequeuer error")
	}
	if _, err := NewRefreshWorker(NewMemoryQueue(), nil); err == nil {
		t.Fatalf("expected missing refresher error")
	}
}

func mustDequeue(t *testing.T, q *MemoryQueue) queue.Delivery {
	t.Helper()
	delivery, err := q.Dequeue(context.Background())
	if err != nil || delivery == nil {
		t.Fatalf("dequeue: delivery=%v err=%v", delivery, err)
	}
	return delivery
}

func runWorker(t *testing.T, w *worker.Worker, done func() bool) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	waitFor(t, done)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop worker: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type stubRefresher struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []core.RefreshTokenRequest
}

func (s *stubRefresher) Execute(_ context.Context, msg shimscommand.RefreshTokenMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg.Request)
	return s.fail[msg.Request.Username]
}

func (s *stubRefresher) snapshot() []core.RefreshTokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RefreshTokenRequest(nil), s.calls...)
}

type capturingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *capturingRecorder) IncCounter(_ context.Context, _ string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[tags["outcome"]] += int(value)
}

func (r *capturingRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (r *capturingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func (r *capturingRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.outcomes {
		total += n
	}
	return total
}

func (r *capturingRecorder) snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return out
}
