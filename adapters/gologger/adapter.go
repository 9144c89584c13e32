// Package gologger builds the daemon logger on go-logger and bridges it to
// the go-job worker.
package gologger

import (
	"io"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPretty  = "pretty"
)

// Options configures the root logger. Zero values log JSON at info level to
// stdout.
type Options struct {
	Name   string
	Level  string
	Format string
	Writer io.Writer
}

// New builds a root glog logger. Fatal only logs; the daemon decides when to
// exit.
func New(opts Options) *glog.BaseLogger {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	options := []glog.Option{
		glog.WithLevel(level),
		glog.WithFatalBehavior(glog.FatalBehaviorLogOnly),
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case FormatConsole:
		options = append(options, glog.WithLoggerTypeConsole())
	case FormatPretty:
		options = append(options, glog.WithLoggerTypePretty())
	default:
		options = append(options, glog.WithLoggerTypeJSON())
	}
	if name := strings.TrimSpace(opts.Name); name != "" {
		options = append(options, glog.WithName(name))
	}
	if opts.Writer != nil {
		options = append(options, glog.WithWriter(opts.Writer))
	}
	return glog.NewLogger(options...)
}

// ValidFormat reports whether format names a supported output.
func ValidFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON, FormatConsole, FormatPretty:
		return true
	default:
		return false
	}
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns the go-job equivalents too.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

var _ glog.LoggerProvider = (*glog.BaseLogger)(nil)
