package core

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the slog-shaped logging surface used by the service. *slog.Logger
// satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span, recording the operation error if any.
type TraceSpan interface {
	End(err error)
}

var _ Logger = (*slog.Logger)(nil)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// observe wraps one service operation with logging, metrics and tracing. The
// returned func must be called exactly once with the operation's error.
func (s *Service) observe(ctx context.Context, operation string) func(error) {
	started := time.Now()
	var span TraceSpan
	if s.tracer != nil {
		_, span = s.tracer.Start(ctx, operation)
	}
	return func(err error) {
		duration := time.Since(started)
		if span != nil {
			span.End(err)
		}
		if s.metrics != nil {
			s.metrics.Observe(ctx, operation, err == nil, duration)
		}
		if err != nil {
			s.logger.Error("operation failed", "operation", operation, "duration", duration, "error", err)
			return
		}
		s.logger.Debug("operation completed", "operation", operation, "duration", duration)
	}
}
