package compute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slok/sloreport/internal/backend"
	"github.com/slok/sloreport/internal/export"
	"github.com/slok/sloreport/internal/log"
	"github.com/slok/sloreport/internal/metrics"
	"github.com/slok/sloreport/internal/report"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

const defaultMaxConcurrency = 5

// BackendResolver knows how to create a metrics backend from an SLO config
// backend selector. Normally a backend.Registry.
type BackendResolver interface {
	New(class string, options map[string]string) (backend.Backend, error)
}

// ReportComputer knows how to compute the reports of a single SLO. Normally a
// report.Service.
type ReportComputer interface {
	Compute(ctx context.Context, r report.Request) (*report.Response, error)
}

// ServiceConfig is the application service configuration.
type ServiceConfig struct {
	Backends       BackendResolver
	ReportComputer ReportComputer
	Exporter       export.Exporter
	// MaxConcurrency bounds the SLO configs evaluated in parallel.
	MaxConcurrency  int
	MetricsRecorder metrics.Recorder
	TimeNowFunc     func() time.Time // Used for faking time in testing.
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Backends == nil {
		return fmt.Errorf("a backend resolver is required")
	}

	if c.Exporter == nil {
		c.Exporter = export.Noop
	}

	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "compute.Service"})

	if c.ReportComputer == nil {
		computer, err := report.NewService(report.ServiceConfig{
			MetricsRecorder: c.MetricsRecorder,
			TimeNowFunc:     c.TimeNowFunc,
			Logger:          c.Logger,
		})
		if err != nil {
			return fmt.Errorf("could not create report computer: %w", err)
		}
		c.ReportComputer = computer
	}

	return nil
}

// Service is the application service that evaluates batches of SLO configs
// against one error budget policy and ships the resulting reports to the
// exporters.
type Service struct {
	backends        BackendResolver
	reportComputer  ReportComputer
	exporter        export.Exporter
	maxConcurrency  int
	metricsRecorder metrics.Recorder
	timeNowFunc     func() time.Time
	logger          log.Logger
}

// NewService returns a new compute application service.
func NewService(config ServiceConfig) (*Service, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		backends:        config.Backends,
		reportComputer:  config.ReportComputer,
		exporter:        config.Exporter,
		maxConcurrency:  config.MaxConcurrency,
		metricsRecorder: config.MetricsRecorder,
		timeNowFunc:     config.TimeNowFunc,
		logger:          config.Logger,
	}, nil
}

type Request struct {
	// SLOs are the SLO configs to evaluate on this cycle.
	SLOs []model.SLO
	// Policy is the error budget policy shared by every evaluation.
	Policy model.ErrorBudgetPolicy
	// Timestamp is the evaluation instant, the current time when zero.
	Timestamp time.Time
	// Export enables shipping the computed reports to the exporters.
	Export bool
	// Delete removes the remote SLO definitions instead of computing, only
	// for backends that host SLOs remotely.
	Delete bool
}

// SLOResult is the outcome of a single SLO config evaluation. A failed config
// carries its error here, it never aborts the rest of the batch.
type SLOResult struct {
	SLO     model.SLO
	Reports []model.Report
	Err     error
}

type Response struct {
	// Results hold one entry per requested SLO config, in request order.
	Results []SLOResult
}

// Compute evaluates every SLO config of the request against the error budget
// policy. Configs are evaluated concurrently and failures are isolated per
// config: the returned error only covers batch level failures (invalid
// policy, cancellation, export).
func (s Service) Compute(ctx context.Context, r Request) (*Response, error) {
	if len(r.SLOs) == 0 {
		return nil, fmt.Errorf("at least one SLO config is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	err := r.Policy.Validate()
	if err != nil {
		return nil, fmt.Errorf("error budget policy: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.timeNowFunc()
	}

	results := make([]SLOResult, len(r.SLOs))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for i, slo := range r.SLOs {
		i, slo := i, slo
		g.Go(func() error {
			results[i] = s.evaluateSLO(ctx, slo, r.Policy, ts, r.Delete)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for _, result := range results {
		if result.Err != nil {
			s.logger.WithValues(log.Kv{"slo": result.SLO.ID()}).Errorf("SLO evaluation failed: %v", result.Err)
		}
	}

	resp := &Response{Results: results}

	if r.Export {
		err := s.exportReports(ctx, resp)
		if err != nil {
			return resp, fmt.Errorf("could not export reports: %w", err)
		}
	}

	return resp, nil
}

func (s Service) evaluateSLO(ctx context.Context, slo model.SLO, policy model.ErrorBudgetPolicy, ts time.Time, deleteSLOs bool) (result SLOResult) {
	result.SLO = slo

	t0 := s.timeNowFunc()
	defer func() {
		s.metricsRecorder.MeasureSLOEvaluation(ctx, slo.ID(), s.timeNowFunc().Sub(t0), result.Err)
	}()

	b, err := s.backends.New(slo.Backend.Class, slo.Backend.Options)
	if err != nil {
		result.Err = fmt.Errorf("slo %q: %w", slo.ID(), err)
		return result
	}

	if deleteSLOs {
		result.Err = s.deleteRemoteSLOs(ctx, b, slo, policy)
		return result
	}

	resp, err := s.reportComputer.Compute(ctx, report.Request{
		SLO:       slo,
		Policy:    policy,
		Timestamp: ts,
		Backend:   b,
	})
	if resp != nil {
		result.Reports = resp.Reports
	}
	result.Err = err

	return result
}

// deleteRemoteSLOs removes the remote SLO definition of every policy step
// window. Already missing definitions are skipped with a warning.
func (s Service) deleteRemoteSLOs(ctx context.Context, b backend.Backend, slo model.SLO, policy model.ErrorBudgetPolicy) error {
	provider, ok := b.(backend.SLOProvider)
	if !ok {
		return fmt.Errorf("backend %q does not manage remote SLOs: %w", b.Class(), commonerrors.ErrUnsupportedMethod)
	}

	var errs []error
	for _, step := range policy.Steps {
		err := provider.DeleteSLO(ctx, slo, step.Window)
		switch {
		case errors.Is(err, commonerrors.ErrNotFound):
			s.logger.Warningf("Remote SLO for %q window %s does not exist, skipping", slo.ID(), step.Window)
		case err != nil:
			errs = append(errs, fmt.Errorf("could not delete remote SLO for window %s: %w", step.Window, err))
		}
	}

	return errors.Join(errs...)
}

func (s Service) exportReports(ctx context.Context, resp *Response) error {
	reports := []model.Report{}
	for _, result := range resp.Results {
		reports = append(reports, result.Reports...)
	}

	if len(reports) == 0 {
		return nil
	}

	t0 := s.timeNowFunc()
	err := s.exporter.Export(ctx, reports)
	s.metricsRecorder.MeasureReportExport(ctx, "batch", s.timeNowFunc().Sub(t0), err)
	if err != nil {
		return err
	}

	s.logger.Infof("Exported %d reports", len(reports))

	return nil
}
