package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"
)

const redactedValue = "[redacted]"

var secretFieldKeys = []string{
	"access_token",
	"access_token_secret",
	"refresh_token",
	"consumer_secret",
	"client_secret",
	"oauth_token_secret",
}

// opOutcome is one finished service operation as it is logged and measured.
type opOutcome struct {
	name     string
	err      error
	duration time.Duration
	fields   map[string]any
}

func (o opOutcome) status() string {
	if o.err != nil {
		return "failure"
	}
	return "success"
}

// tags are the metric labels. Only the domain is taken from the fields since
// usernames and correlation ids are unbounded.
func (o opOutcome) tags() map[string]string {
	tags := map[string]string{"operation": o.name, "status": o.status()}
	if domain, ok := o.fields["domain"].(string); ok && strings.TrimSpace(domain) != "" {
		tags["domain"] = strings.TrimSpace(domain)
	}
	return tags
}

func (o opOutcome) logFields() map[string]any {
	out := redactFields(o.fields)
	out["event_type"] = o.name
	out["status"] = o.status()
	out["duration_ms"] = o.duration.Milliseconds()
	if o.err != nil {
		out["error"] = o.err.Error()
	}
	return out
}

// observeOperation logs and records metrics for an operation started at
// startedAt. It is deferred by every public Service method.
func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	outcome := opOutcome{
		name:     operationName(operation),
		err:      err,
		duration: time.Since(startedAt),
		fields:   fields,
	}
	tags := outcome.tags()
	s.metrics().IncCounter(ctx, "shims."+outcome.name+".total", 1, tags)
	s.metrics().ObserveHistogram(ctx, "shims."+outcome.name+".duration_ms", float64(outcome.duration.Milliseconds()), tags)

	if err != nil {
		s.emit(ctx, "error", outcome.name+" failed", outcome.logFields())
		return
	}
	s.emit(ctx, "info", outcome.name+" succeeded", outcome.logFields())
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.emit(ctx, "warn", message, redactFields(fields))
}

func (s *Service) emit(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	var args []any
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(maps.Clone(fields))
	} else {
		args = keyValues(fields)
	}
	log := logger.Info
	switch level {
	case "error":
		log = logger.Error
	case "warn":
		log = logger.Warn
	}
	log(message, args...)
}

func (s *Service) metrics() MetricsRecorder {
	if s == nil || s.metricsRecorder == nil {
		return NopMetricsRecorder{}
	}
	return s.metricsRecorder
}

// redactFields copies fields with credential values masked.
func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if slices.Contains(secretFieldKeys, strings.ToLower(key)) {
			value = redactedValue
		}
		out[key] = value
	}
	return out
}

// keyValues renders fields as sorted slog-style key/value pairs.
func keyValues(fields map[string]any) []any {
	keys := slices.Sorted(maps.Keys(fields))
	args := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func operationName(operation string) string {
	name := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(operation)))
	if name == "" {
		return "unknown"
	}
	return name
}
