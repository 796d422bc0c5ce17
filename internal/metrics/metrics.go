package metrics

import (
	"context"
	"time"
)

// Recorder knows how to measure the internals of the application.
type Recorder interface {
	MeasureBackendQuery(ctx context.Context, class, method string, t time.Duration, err error)
	MeasureSLOEvaluation(ctx context.Context, sloID string, t time.Duration, err error)
	MeasureReportExport(ctx context.Context, exporter string, t time.Duration, err error)
}

type noopRecorder bool

// NoopRecorder doesn't record anything.
var NoopRecorder Recorder = noopRecorder(false)

func (r noopRecorder) MeasureBackendQuery(ctx context.Context, class, method string, t time.Duration, err error) {
}

func (r noopRecorder) MeasureSLOEvaluation(ctx context.Context, sloID string, t time.Duration, err error) {
}

func (r noopRecorder) MeasureReportExport(ctx context.Context, exporter string, t time.Duration, err error) {
}
