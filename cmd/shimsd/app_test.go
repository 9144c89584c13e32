package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/adapters/postgres"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-shims/adapters/gojob"
	"github.com/goliatone/go-shims/auth"
	"github.com/prometheus/client_golang/prometheus"
)

func testDaemonConfig(t *testing.T) DaemonConfig {
	t.Helper()
	cfg := DefaultDaemonConfig()
	cfg.Database.DSN = fmt.Sprintf("file:shimsd-test-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	cfg.Auth.SigningKey = "shimsd-test-key"
	cfg.Secrets.AppKey = "shimsd-test-app-key"
	cfg.Shims.DefaultClientRedirectURL = "https://app.example/done"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg DaemonConfig) (*app, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	application, err := buildApp(context.Background(), cfg, nil, registry, registry)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() { _ = application.Close() })
	return application, registry
}

func serve(application *app, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	application.router.ServeHTTP(w, req)
	return w
}

func TestBuildApp_ServesHealthSchemasAndMetrics(t *testing.T) {
	application, _ := newTestApp(t, testDaemonConfig(t))
	if application.worker == nil {
		t.Fatalf("expected refresh worker when enabled")
	}

	if w := serve(application, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from healthz, got %d", w.Code)
	}

	w := serve(application, httptest.NewRequest(http.MethodGet, "/schemas?domain=blue_button_plus", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from schemas, got %d: %s", w.Code, w.Body.String())
	}
	var listed struct {
		Schemas []map[string]any `json:"schemas"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode schemas: %v", err)
	}
	if len(listed.Schemas) == 0 {
		t.Fatalf("expected bundled schemas, got %s", w.Body.String())
	}

	if w := serve(application, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", w.Code)
	}
}

func TestBuildApp_RefreshQueueFollowsConfig(t *testing.T) {
	application, _ := newTestApp(t, testDaemonConfig(t))
	if _, ok := application.queue.(*postgres.Adapter); !ok {
		t.Fatalf("expected the sql queue by default, got %T", application.queue)
	}

	cfg := testDaemonConfig(t)
	cfg.Worker.Queue = queueMemory
	application, _ = newTestApp(t, cfg)
	if _, ok := application.queue.(*gojob.MemoryQueue); !ok {
		t.Fatalf("expected the memory queue, got %T", application.queue)
	}
	if tasks := application.worker.RegisteredTasks(); len(tasks) != 1 || tasks[0].GetID() != gojob.JobIDRefreshToken {
		t.Fatalf("expected the refresh task on the worker, got %#v", tasks)
	}
}

func TestRefreshRetryPolicy(t *testing.T) {
	policy := refreshRetryPolicy(WorkerConfig{MaxAttempts: 4, RetryBackoffSeconds: 30})
	if policy.MaxAttempts != 4 || policy.Backoff.Strategy != worker.BackoffExponential || policy.Backoff.Interval != 30*time.Second {
		t.Fatalf("unexpected policy %#v", policy)
	}
	if opts := policy.Decide(1, errors.New("provider down")); opts.Disposition != queue.NackDispositionRetry || opts.Delay <= 0 {
		t.Fatalf("expected a delayed retry, got %#v", opts)
	}
	if opts := policy.Decide(4, errors.New("provider down")); opts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected the last attempt to dead-letter, got %#v", opts)
	}
	if fallback := refreshRetryPolicy(WorkerConfig{}); fallback.MaxAttempts != 1 || fallback.Backoff.Strategy != "" {
		t.Fatalf("expected the single attempt default, got %#v", fallback)
	}
}

func TestBuildApp_HandshakeAgainstSQLStorage(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.Worker.Enabled = false
	application, registry := newTestApp(t, cfg)
	if application.worker != nil {
		t.Fatalf("expected no worker when disabled")
	}

	credentials, err := auth.NewCredentialService(auth.Config{SigningKey: cfg.Auth.SigningKey, Issuer: cfg.Auth.Issuer})
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	token, err := credentials.IssueAuthentication("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	bearer := "Bearer " + token

	req := httptest.NewRequest(http.MethodGet, "/auth/authorized?domain=blue_button_plus", nil)
	req.Header.Set("Authorization", bearer)
	w := serve(application, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authorize: %d %s", w.Code, w.Body.String())
	}
	var started struct {
		AuthorizeID string `json:"authorize_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil || started.AuthorizeID == "" {
		t.Fatalf("decode authorize response %s: %v", w.Body.String(), err)
	}

	w = serve(application, httptest.NewRequest(http.MethodGet, "/auth/oauth/external_authorization?state="+url.QueryEscape(started.AuthorizeID), nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != cfg.Shims.DefaultClientRedirectURL {
		t.Fatalf("callback: %d location=%q %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/authorized?domain=blue_button_plus", nil)
	req.Header.Set("Authorization", bearer)
	if w := serve(application, req); w.Code != http.StatusNoContent {
		t.Fatalf("expected stored token to short-circuit authorize, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/data/omh:blue_button_plus:medications", nil)
	req.Header.Set("Authorization", bearer)
	if w := serve(application, req); w.Code != http.StatusOK {
		t.Fatalf("read: %d %s", w.Code, w.Body.String())
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var names []string
	for _, family := range families {
		names = append(names, family.GetName())
	}
	if !strings.Contains(strings.Join(names, ","), "shims_complete_authorization_total") {
		t.Fatalf("expected handshake metrics, got %v", names)
	}
}

func TestBuildApp_RejectsUnreachableRedis(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.Redis.URL = "not a redis url"
	if _, err := buildApp(context.Background(), cfg, nil, prometheus.NewRegistry(), prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected invalid redis url to fail")
	}
}
