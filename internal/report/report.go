package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slok/sloreport/internal/backend"
	"github.com/slok/sloreport/internal/log"
	"github.com/slok/sloreport/internal/metrics"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// ServiceConfig is the application service configuration.
type ServiceConfig struct {
	// QueryTimeout bounds every single backend measurement call.
	QueryTimeout    time.Duration
	MetricsRecorder metrics.Recorder
	TimeNowFunc     func() time.Time // Used for faking time in testing.
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}

	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.NoopRecorder
	}

	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "report.Service"})

	return nil
}

// Service is the application service that computes SLO reports, the core of
// the whole application.
type Service struct {
	queryTimeout    time.Duration
	metricsRecorder metrics.Recorder
	timeNowFunc     func() time.Time
	logger          log.Logger
}

// NewService returns a new report computation service.
func NewService(config ServiceConfig) (*Service, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		queryTimeout:    config.QueryTimeout,
		metricsRecorder: config.MetricsRecorder,
		timeNowFunc:     config.TimeNowFunc,
		logger:          config.Logger,
	}, nil
}

type Request struct {
	// SLO is the service level objective to evaluate.
	SLO model.SLO
	// Policy is the error budget policy the SLO is evaluated against.
	Policy model.ErrorBudgetPolicy
	// Timestamp is the evaluation instant, the measurement windows end here.
	// If zero, the current time is used.
	Timestamp time.Time
	// Backend is the metrics backend the measurements are pulled from.
	Backend backend.Backend
}

type Response struct {
	// Reports are the computed reports, one per policy step that measured
	// successfully, in policy step order.
	Reports []model.Report
}

// Compute evaluates one SLO against one error budget policy at one timestamp
// and returns one report per policy step, in policy step order.
//
// Policy steps are measured concurrently, each backend call bounded by the
// service query timeout. Step failures are step scoped: the reports of the
// remaining steps are still returned and the failed steps are aggregated on
// the returned error, so both the response and the error can be non-nil. If
// the context is cancelled every computed report is discarded and only the
// context error is returned.
func (s Service) Compute(ctx context.Context, r Request) (*Response, error) {
	err := s.validateRequest(r)
	if err != nil {
		return nil, err
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.timeNowFunc()
	}

	measure, err := s.resolveMeasurer(r.Backend, r.SLO.Backend.Method)
	if err != nil {
		return nil, fmt.Errorf("slo %q: %w", r.SLO.ID(), err)
	}

	logger := s.logger.WithValues(log.Kv{"slo": r.SLO.ID(), "method": r.SLO.Backend.Method})

	steps := r.Policy.Steps
	reports := make([]*model.Report, len(steps))
	stepErrs := make([]error, len(steps))

	var g errgroup.Group
	for i, step := range steps {
		i, step := i, step
		g.Go(func() error {
			report, err := s.computeStep(ctx, measure, r.SLO, step, ts)
			if err != nil {
				stepErrs[i] = fmt.Errorf("slo %q step %q (window %s, method %s): %w",
					r.SLO.ID(), step.Name, step.Window, r.SLO.Backend.Method, err)
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	// On cancellation discard everything, a half run is not a valid result.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &Response{Reports: make([]model.Report, 0, len(steps))}
	for _, report := range reports {
		if report != nil {
			res.Reports = append(res.Reports, *report)
		}
	}

	logger.Debugf("Computed %d/%d step reports", len(res.Reports), len(steps))

	return res, errors.Join(stepErrs...)
}

func (s Service) validateRequest(r Request) error {
	err := r.SLO.Validate()
	if err != nil {
		return fmt.Errorf("slo %q: %v: %w", r.SLO.ID(), err, commonerrors.ErrInvalidConfiguration)
	}

	err = r.Policy.Validate()
	if err != nil {
		return fmt.Errorf("error budget policy: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	// A target of exactly 1 makes the allowed error rate zero and the burn
	// rate undefined, reject instead of dividing by zero.
	if r.SLO.SLOTarget >= 1 {
		return fmt.Errorf("slo %q: slo_target must be < 1: %w", r.SLO.ID(), commonerrors.ErrInvalidConfiguration)
	}

	if r.Backend == nil {
		return fmt.Errorf("slo %q: a backend is required: %w", r.SLO.ID(), commonerrors.ErrInvalidConfiguration)
	}

	return nil
}

type measureFunc func(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)

// resolveMeasurer maps the SLO config method to the backend capability, the
// backend not implementing the capability and an unknown method name are both
// unsupported method failures.
func (s Service) resolveMeasurer(b backend.Backend, method string) (measureFunc, error) {
	switch method {
	case model.MethodGoodBadRatio:
		bb, ok := b.(backend.GoodBadRatioBackend)
		if !ok {
			return nil, methodNotImplementedError(b, method)
		}
		return bb.GoodBadRatio, nil
	case model.MethodDistributionCut:
		bb, ok := b.(backend.DistributionCutBackend)
		if !ok {
			return nil, methodNotImplementedError(b, method)
		}
		return bb.DistributionCut, nil
	case model.MethodBasic:
		bb, ok := b.(backend.BasicSLIBackend)
		if !ok {
			return nil, methodNotImplementedError(b, method)
		}
		return bb.BasicSLI, nil
	case model.MethodWindow:
		bb, ok := b.(backend.WindowSLIBackend)
		if !ok {
			return nil, methodNotImplementedError(b, method)
		}
		return bb.WindowSLI, nil
	case model.MethodQuerySLI:
		bb, ok := b.(backend.QuerySLIBackend)
		if !ok {
			return nil, methodNotImplementedError(b, method)
		}
		return bb.QuerySLI, nil
	}

	return nil, fmt.Errorf("unknown SLI method %q: %w", method, commonerrors.ErrUnsupportedMethod)
}

func methodNotImplementedError(b backend.Backend, method string) error {
	return fmt.Errorf("backend %q does not implement SLI method %q: %w", b.Class(), method, commonerrors.ErrUnsupportedMethod)
}

func (s Service) computeStep(ctx context.Context, measure measureFunc, slo model.SLO, step model.ErrorBudgetPolicyStep, ts time.Time) (*model.Report, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	t0 := s.timeNowFunc()
	m, err := measure(queryCtx, ts, step.Window, slo)
	s.metricsRecorder.MeasureBackendQuery(ctx, slo.Backend.Class, slo.Backend.Method, s.timeNowFunc().Sub(t0), err)
	if err != nil {
		return nil, err
	}

	sli, good, bad, err := sliFromMeasurement(m)
	if err != nil {
		return nil, err
	}

	return newReport(slo, step, ts, sli, good, bad), nil
}

// sliFromMeasurement derives the SLI value from the backend measurement.
//
// Windows without traffic (zero good and bad/valid events) measure as fully
// compliant (SLI 1), no traffic means no failed requests.
func sliFromMeasurement(m *model.Measurement) (sli, good, bad float64, err error) {
	switch {
	case m == nil:
		return 0, 0, 0, fmt.Errorf("backend returned no measurement: %w", commonerrors.ErrQueryFailed)

	case m.GoodBadEvents != nil:
		good, bad = m.GoodBadEvents.GoodCount, m.GoodBadEvents.BadCount
		if good < 0 || bad < 0 {
			return 0, 0, 0, fmt.Errorf("negative event counts (good=%v, bad=%v): %w", good, bad, commonerrors.ErrQueryFailed)
		}
		if good+bad == 0 {
			return 1, 0, 0, nil
		}
		return good / (good + bad), good, bad, nil

	case m.GoodValidEvents != nil:
		good = m.GoodValidEvents.GoodCount
		valid := m.GoodValidEvents.ValidCount
		if good < 0 || valid < 0 {
			return 0, 0, 0, fmt.Errorf("negative event counts (good=%v, valid=%v): %w", good, valid, commonerrors.ErrQueryFailed)
		}
		if valid == 0 {
			return 1, 0, 0, nil
		}
		bad = math.Max(0, valid-good)
		return good / valid, good, bad, nil

	case m.Value != nil:
		return m.Value.Value, 0, 0, nil
	}

	return 0, 0, 0, fmt.Errorf("backend returned an empty measurement: %w", commonerrors.ErrQueryFailed)
}

// newReport assembles the report of a single policy step.
func newReport(slo model.SLO, step model.ErrorBudgetPolicyStep, ts time.Time, sli, good, bad float64) *model.Report {
	ebTarget := 1 - slo.SLOTarget
	burnRate := (1 - sli) / ebTarget
	ebRemaining := 1 - burnRate

	windowMinutes := step.Window.Minutes()
	var ebMinutes float64
	if ebRemaining < 0 {
		ebMinutes = windowMinutes * math.Max(0, -ebRemaining)
	} else {
		ebMinutes = windowMinutes * ebRemaining
	}

	// The dedicated alerting threshold wins over the generic one when set.
	threshold := step.BurnRateThreshold
	if step.AlertingBurnRateThreshold > 0 {
		threshold = step.AlertingBurnRateThreshold
	}
	alert := burnRate >= threshold
	message := step.MessageOK
	if alert {
		message = step.MessageAlert
	}

	return &model.Report{
		ServiceName:    slo.ServiceName,
		FeatureName:    slo.FeatureName,
		SLOName:        slo.SLOName,
		SLODescription: slo.SLODescription,
		StepName:       step.Name,

		Timestamp:      ts.Unix(),
		TimestampHuman: ts.UTC().Format(time.RFC3339),
		Window:         int64(step.Window / time.Second),

		SLIMeasurement: sli,
		SLOTarget:      slo.SLOTarget,
		Gap:            sli - slo.SLOTarget,

		GoodEventsCount: good,
		BadEventsCount:  bad,

		ErrorBudgetTarget:    ebTarget,
		ErrorBudgetRemaining: ebRemaining,
		ErrorBudgetMinutes:   ebMinutes,
		ErrorMinutes:         windowMinutes * (1 - sli),

		BurnRate: burnRate,
		Alert:    alert,
		Message:  message,
	}
}
