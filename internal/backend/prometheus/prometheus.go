package prometheus

import (
	"context"
	"fmt"
	"strings"
	"time"

	prometheusv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	promqlparser "github.com/prometheus/prometheus/promql/parser"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// BackendClass is the registry class name of the Prometheus backend.
const BackendClass = "prometheus"

// windowTplVar is the template variable of the measurement queries, replaced
// with the step window as a Prometheus duration (e.g `3600s`) on every call.
const windowTplVar = "{{window}}"

// PrometheusAPIClient is an interface that defines the methods we use from the
// Prometheus client. We define it so we can add flexibility like easily
// mocking in tests or wrap it for functionality.
type PrometheusAPIClient interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...prometheusv1.Option) (prommodel.Value, prometheusv1.Warnings, error)
}

// BackendConfig is the Prometheus backend configuration.
type BackendConfig struct {
	Client PrometheusAPIClient
	Logger log.Logger
}

func (c *BackendConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("prometheus API client is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"backend": BackendClass})

	return nil
}

// Backend measures SLIs by running PromQL instant queries against a
// Prometheus compatible API.
//
// Implements the `good_bad_ratio`, `distribution_cut` and `query_sli`
// methods.
type Backend struct {
	promcli PrometheusAPIClient
	logger  log.Logger
}

// NewBackend returns a new Prometheus backend.
func NewBackend(config BackendConfig) (*Backend, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Backend{
		promcli: config.Client,
		logger:  config.Logger,
	}, nil
}

func (b Backend) Class() string { return BackendClass }

// GoodBadRatio queries the good events counter and one of the bad/valid
// events counters and returns the raw counts.
func (b Backend) GoodBadRatio(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	m := slo.Backend.Measurement
	if m.QueryGood == "" {
		return nil, fmt.Errorf("query_good is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	// Exactly one of `query_bad` or `query_valid` is required.
	if (m.QueryBad == "") == (m.QueryValid == "") {
		return nil, fmt.Errorf("oneof query_bad or query_valid is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	good, err := b.queryCount(ctx, m.QueryGood, ts, window)
	if err != nil {
		return nil, fmt.Errorf("good events query: %w", err)
	}

	if m.QueryBad != "" {
		bad, err := b.queryCount(ctx, m.QueryBad, ts, window)
		if err != nil {
			return nil, fmt.Errorf("bad events query: %w", err)
		}
		return &model.Measurement{GoodBadEvents: &model.GoodBadEvents{GoodCount: good, BadCount: bad}}, nil
	}

	valid, err := b.queryCount(ctx, m.QueryValid, ts, window)
	if err != nil {
		return nil, fmt.Errorf("valid events query: %w", err)
	}
	return &model.Measurement{GoodValidEvents: &model.GoodValidEvents{GoodCount: good, ValidCount: valid}}, nil
}

// DistributionCut queries the events below the distribution threshold and the
// total valid events, and returns the resulting ratio as a direct SLI value.
func (b Backend) DistributionCut(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	m := slo.Backend.Measurement
	if m.QueryGood == "" || m.QueryValid == "" {
		return nil, fmt.Errorf("query_good and query_valid are required: %w", commonerrors.ErrInvalidConfiguration)
	}

	good, err := b.queryCount(ctx, m.QueryGood, ts, window)
	if err != nil {
		return nil, fmt.Errorf("distribution cut query: %w", err)
	}

	valid, err := b.queryCount(ctx, m.QueryValid, ts, window)
	if err != nil {
		return nil, fmt.Errorf("valid events query: %w", err)
	}

	// No traffic on the window measures as fully compliant.
	value := 1.0
	if valid > 0 {
		value = good / valid
	}

	return &model.Measurement{Value: &model.SLIValue{Value: value}}, nil
}

// QuerySLI runs a single query whose result already is the SLI value.
func (b Backend) QuerySLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	m := slo.Backend.Measurement
	if m.Query == "" {
		return nil, fmt.Errorf("query is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	value, err := b.queryCount(ctx, m.Query, ts, window)
	if err != nil {
		return nil, fmt.Errorf("sli query: %w", err)
	}

	return &model.Measurement{Value: &model.SLIValue{Value: value}}, nil
}

// queryCount renders and runs an instant query at ts and returns the sum of
// the returned vector samples.
func (b Backend) queryCount(ctx context.Context, query string, ts time.Time, window time.Duration) (float64, error) {
	rendered := strings.ReplaceAll(query, windowTplVar, promDurationString(window))

	_, err := promqlparser.ParseExpr(rendered)
	if err != nil {
		return 0, fmt.Errorf("invalid promql expression %q: %v: %w", rendered, err, commonerrors.ErrInvalidConfiguration)
	}

	b.logger.Debugf("Querying Prometheus with query=%q, ts=%s", rendered, ts)

	result, warnings, err := b.promcli.Query(ctx, rendered, ts)
	if err != nil {
		return 0, fmt.Errorf("could not query prometheus: %v: %w", err, commonerrors.ErrQueryFailed)
	}

	for _, warning := range warnings {
		b.logger.Warningf("Prometheus query warning: %v", warning)
	}

	switch v := result.(type) {
	case prommodel.Vector:
		var sum float64
		for _, sample := range v {
			sum += float64(sample.Value)
		}
		return sum, nil
	case *prommodel.Scalar:
		return float64(v.Value), nil
	}

	return 0, fmt.Errorf("unexpected result type %T: %w", result, commonerrors.ErrQueryFailed)
}

func promDurationString(window time.Duration) string {
	return fmt.Sprintf("%ds", int64(window/time.Second))
}
