package core

import (
	"bytes"
	"context"
	"maps"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type metricPoint struct {
	kind string
	name string
	tags map[string]string
}

type recordingMetrics struct {
	mu     sync.Mutex
	points []metricPoint
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, _ int64, tags map[string]string) {
	m.add("counter", name, tags)
}

func (m *recordingMetrics) ObserveHistogram(_ context.Context, name string, _ float64, tags map[string]string) {
	m.add("histogram", name, tags)
}

func (m *recordingMetrics) add(kind, name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, metricPoint{kind: kind, name: name, tags: maps.Clone(tags)})
}

func (m *recordingMetrics) find(kind, name string, tags map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, point := range m.points {
		if point.kind != kind || point.name != name {
			continue
		}
		matched := true
		for key, value := range tags {
			if point.tags[key] != value {
				matched = false
			}
		}
		if matched {
			return true
		}
	}
	return false
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger writes into a shared sink; WithFields returns a child
// carrying extra fields.
type recordingLogger struct {
	sink   *logSink
	fields map[string]any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}, fields: map[string]any{}}
}

func (l *recordingLogger) WithFields(fields map[string]any) Logger {
	merged := maps.Clone(l.fields)
	maps.Copy(merged, fields)
	return &recordingLogger{sink: l.sink, fields: merged}
}

func (l *recordingLogger) WithContext(context.Context) Logger { return l }

func (l *recordingLogger) Trace(msg string, args ...any) { l.write("trace", msg, args) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.write("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.write("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.write("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.write("error", msg, args) }
func (l *recordingLogger) Fatal(msg string, args ...any) { l.write("fatal", msg, args) }

func (l *recordingLogger) write(level, msg string, args []any) {
	fields := maps.Clone(l.fields)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) entries() []logEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]logEntry(nil), l.sink.entries...)
}

func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	for _, entry := range l.entries() {
		if entry.level == level && entry.msg == msg {
			return entry, true
		}
	}
	return logEntry{}, false
}

func TestServiceObservability_InitiateSuccess(t *testing.T) {
	metrics := &recordingMetrics{}
	logger := newRecordingLogger()
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")},
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	success := map[string]string{"status": "success", "domain": "fitbit"}
	if !metrics.find("counter", "shims.initiate_authorization.total", success) {
		t.Fatalf("expected success counter, got %#v", metrics.points)
	}
	if !metrics.find("histogram", "shims.initiate_authorization.duration_ms", success) {
		t.Fatalf("expected duration histogram, got %#v", metrics.points)
	}

	entry, ok := logger.find("info", "initiate_authorization succeeded")
	if !ok {
		t.Fatalf("expected success log, got %#v", logger.entries())
	}
	if entry.fields["event_type"] != "initiate_authorization" {
		t.Fatalf("expected event_type field, got %#v", entry.fields)
	}
	if entry.fields["username"] != "alice" || entry.fields["domain"] != "fitbit" {
		t.Fatalf("expected username and domain fields, got %#v", entry.fields)
	}
	if _, ok := entry.fields["correlation_id"]; !ok {
		t.Fatalf("expected correlation_id field")
	}
}

func TestServiceObservability_ReadFailureTagsDomain(t *testing.T) {
	metrics := &recordingMetrics{}
	logger := newRecordingLogger()
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")},
		WithMetricsRecorder(metrics),
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.ReadData(context.Background(), ReadRequest{
		SchemaID:       "omh:fitbit:steps",
		Authentication: &AuthenticationCredential{Subject: "alice", ExpiresAt: fixedNow.Add(time.Hour)},
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryAuthz {
		t.Fatalf("expected not yet authorized error, got %#v", err)
	}

	if !metrics.find("counter", "shims.read_data.total", map[string]string{"status": "failure", "domain": "fitbit"}) {
		t.Fatalf("expected failure counter tagged with domain, got %#v", metrics.points)
	}
	entry, ok := logger.find("error", "read_data failed")
	if !ok || entry.fields["event_type"] != "read_data" || entry.fields["error"] == nil {
		t.Fatalf("expected failure log, got %#v", logger.entries())
	}
}

func TestServiceObservability_GlogWritesFieldsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := glog.NewLogger(glog.WithWriter(&buf), glog.WithLoggerTypeJSON(), glog.WithLevel("debug"))
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")},
		WithLogger(logger),
		WithLoggerProvider(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, _ = svc.ReadData(context.Background(), ReadRequest{
		SchemaID:       "omh:fitbit:steps",
		Authentication: &AuthenticationCredential{Subject: "alice", ExpiresAt: fixedNow.Add(time.Hour)},
	})

	var line string
	for _, candidate := range strings.Split(buf.String(), "\n") {
		if strings.Contains(candidate, `"msg":"read_data failed"`) {
			line = candidate
		}
	}
	if line == "" {
		t.Fatalf("expected a read_data failure line, got %q", buf.String())
	}
	if n := strings.Count(line, `"event_type":`); n != 1 {
		t.Fatalf("expected event_type once, got %d in %s", n, line)
	}
	if !strings.Contains(line, `"domain":"fitbit"`) {
		t.Fatalf("expected the domain field, got %s", line)
	}
}

func TestRedactFieldsMasksCredentials(t *testing.T) {
	fields := redactFields(map[string]any{
		"Access_Token":  "a",
		"refresh_token": "r",
		"username":      "alice",
	})
	if fields["Access_Token"] != redactedValue || fields["refresh_token"] != redactedValue {
		t.Fatalf("expected secrets to be redacted, got %#v", fields)
	}
	if fields["username"] != "alice" {
		t.Fatalf("expected username to survive, got %#v", fields["username"])
	}
}

func TestOperationName(t *testing.T) {
	cases := map[string]string{
		" Read Data ":   "read_data",
		"refresh-token": "refresh_token",
		"":              "unknown",
	}
	for in, want := range cases {
		if got := operationName(in); got != want {
			t.Fatalf("operationName(%q) = %q, want %q", in, got, want)
		}
	}
}
