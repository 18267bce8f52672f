package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TimeoutMonitor tracks store call durations and warns about approaching timeouts
type TimeoutMonitor struct {
	logger       *slog.Logger
	warningRatio float64 // Warn when execution reaches this share of the timeout
}

// NewTimeoutMonitor creates a monitor with default settings
func NewTimeoutMonitor() *TimeoutMonitor {
	return &TimeoutMonitor{
		logger:       slog.Default().With("component", "timeout_monitor"),
		warningRatio: 0.8,
	}
}

// MonitorQueryExecution runs fn and logs how close it came to timeout.
// Returns the duration the call took
func (tm *TimeoutMonitor) MonitorQueryExecution(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func() error,
) time.Duration {
	start := time.Now()
	err := fn()
	duration := time.Since(start)
	tm.report(ctx, operation, timeout, duration, err)
	return duration
}

// MonitorWithContext runs fn under a context bounded by timeout
func (tm *TimeoutMonitor) MonitorWithContext(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(timeoutCtx)
	tm.report(timeoutCtx, operation, timeout, time.Since(start), err)
	return err
}

func (tm *TimeoutMonitor) report(ctx context.Context, operation string, timeout, duration time.Duration, err error) {
	warningThreshold := time.Duration(float64(timeout) * tm.warningRatio)

	switch {
	case err != nil && (errors.Is(ctx.Err(), context.DeadlineExceeded) || duration >= timeout):
		tm.logger.Error("operation timed out",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"timeout_seconds", timeout.Seconds())
	case err != nil:
		tm.logger.Warn("operation failed",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"error", err)
	case duration >= warningThreshold:
		percentUsed := (duration.Seconds() / timeout.Seconds()) * 100
		tm.logger.Warn("operation approaching timeout",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"timeout_seconds", timeout.Seconds(),
			"percent_used", percentUsed)
	default:
		tm.logger.Debug("operation completed",
			"operation", operation,
			"duration_seconds", duration.Seconds())
	}
}
