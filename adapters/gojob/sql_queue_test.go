package gojob

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-shims/core"
	_ "github.com/mattn/go-sqlite3"
)

func newSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestOpenSQLQueue_RejectsUnknownDialect(t *testing.T) {
	if _, err := OpenSQLQueue(context.Background(), newSQLiteDB(t), "mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
	if _, err := OpenSQLQueue(context.Background(), nil, "sqlite"); err == nil {
		t.Fatalf("expected missing database error")
	}
}

func TestRefreshWorker_SQLQueue(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	q, err := OpenSQLQueue(ctx, db, "sqlite")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	scheduler, err := NewRefreshScheduler(NewEnqueuerAdapter(q))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	for _, username := range []string{"alice", "bob"} {
		if err := scheduler.ScheduleRefresh(ctx, core.RefreshTokenRequest{Username: username, Domain: "fitbit"}, time.Time{}); err != nil {
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
	if len(calls) != 2 {
		t.Fatalf("expected both jobs to run once, got %#v", calls)
	}
	if got := countRows(t, db, "queue_messages"); got != 0 {
		t.Fatalf("expected no messages left on the queue, got %d", got)
	}
	if got := countRows(t, db, "queue_dlq"); got != 1 {
		t.Fatalf("expected the failed refresh in the dead-letter table, got %d", got)
	}
}
