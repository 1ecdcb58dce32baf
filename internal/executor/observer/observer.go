// Package observer defines metrics hooks for code execution.
package observer

import "context"

// MetricsRecorder records execution metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64)
	SessionStarted(ctx context.Context, languageID string)
	SessionFinished(ctx context.Context, languageID string)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) SessionStarted(ctx context.Context, languageID string) {}

func (NoopMetricsRecorder) SessionFinished(ctx context.Context, languageID string) {}
