package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Prefix = "sloreport"
)

// Recorder is a metrics.Recorder implementation backed by Prometheus.
type Recorder struct {
	reg prometheus.Registerer

	backendQueryLatency *prometheus.HistogramVec
	sloEvalLatency      *prometheus.HistogramVec
	reportExportLatency *prometheus.HistogramVec
}

func NewRecorder(reg prometheus.Registerer) Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		reg: reg,

		backendQueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Prefix,
				Subsystem: "backend",
				Name:      "query_duration_seconds",
				Help:      "Duration histogram of metrics backend queries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"class", "method", "success"},
		),

		sloEvalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Prefix,
				Subsystem: "report",
				Name:      "slo_evaluation_duration_seconds",
				Help:      "Duration histogram of full SLO evaluations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"slo", "success"},
		),

		reportExportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Prefix,
				Subsystem: "export",
				Name:      "operation_duration_seconds",
				Help:      "Duration histogram of report export operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"exporter", "success"},
		),
	}

	r.init()

	return *r
}

func (r Recorder) init() {
	// Register our collectors.
	r.reg.MustRegister(
		r.backendQueryLatency,
		r.sloEvalLatency,
		r.reportExportLatency,
	)
}

func (r Recorder) MeasureBackendQuery(ctx context.Context, class, method string, t time.Duration, err error) {
	r.backendQueryLatency.WithLabelValues(class, method, strconv.FormatBool(err == nil)).Observe(t.Seconds())
}

func (r Recorder) MeasureSLOEvaluation(ctx context.Context, sloID string, t time.Duration, err error) {
	r.sloEvalLatency.WithLabelValues(sloID, strconv.FormatBool(err == nil)).Observe(t.Seconds())
}

func (r Recorder) MeasureReportExport(ctx context.Context, exporter string, t time.Duration, err error) {
	r.reportExportLatency.WithLabelValues(exporter, strconv.FormatBool(err == nil)).Observe(t.Seconds())
}
