package cloudmonitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/sloreport/internal/backend"
	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// BackendClass is the registry class name of the cloud monitoring backend.
const BackendClass = "cloud_monitoring"

const defaultTimeout = 30 * time.Second

// BackendConfig is the cloud monitoring backend configuration.
type BackendConfig struct {
	// URL is the base URL of the service monitoring API.
	URL     string
	Timeout time.Duration
	Logger  log.Logger
}

func (c *BackendConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("service monitoring API URL is required")
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"backend": BackendClass})

	return nil
}

// Backend is a provider assisted backend: the SLO definitions are hosted by a
// remote service monitoring API that also counts the good/bad events for
// them. Measuring makes sure the remote service and SLO exist (creating or
// updating them when needed) and then pulls the event counts of the window.
//
// Implements the `basic`, `window`, `good_bad_ratio` and `distribution_cut`
// methods, plus the remote SLO lifecycle operations.
type Backend struct {
	client *apiClient
	logger log.Logger
}

// NewBackend returns a new cloud monitoring backend.
func NewBackend(config BackendConfig) (*Backend, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Backend{
		client: newAPIClient(config.URL, config.Timeout),
		logger: config.Logger,
	}, nil
}

var _ backend.SLOProvider = &Backend{}

func (b Backend) Class() string { return BackendClass }

// GoodBadRatio measures through the remote SLO and returns the raw counts.
func (b Backend) GoodBadRatio(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	counts, err := b.retrieveCounts(ctx, ts, window, slo)
	if err != nil {
		return nil, err
	}

	return &model.Measurement{GoodBadEvents: &model.GoodBadEvents{GoodCount: counts.GoodCount, BadCount: counts.BadCount}}, nil
}

// DistributionCut measures through the remote SLO, normalized to a ratio.
func (b Backend) DistributionCut(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	return b.retrieveRatio(ctx, ts, window, slo)
}

// BasicSLI measures a provider managed basic SLI, normalized to a ratio.
func (b Backend) BasicSLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	return b.retrieveRatio(ctx, ts, window, slo)
}

// WindowSLI measures a provider managed window based SLI, normalized to a
// ratio.
func (b Backend) WindowSLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	return b.retrieveRatio(ctx, ts, window, slo)
}

func (b Backend) retrieveRatio(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	counts, err := b.retrieveCounts(ctx, ts, window, slo)
	if err != nil {
		return nil, err
	}

	// No traffic on the window measures as fully compliant.
	value := 1.0
	if total := counts.GoodCount + counts.BadCount; total > 0 {
		value = counts.GoodCount / total
	}

	return &model.Measurement{Value: &model.SLIValue{Value: value}}, nil
}

// retrieveCounts makes sure the remote service and SLO exist and pulls the
// event counts of the window ending at ts.
func (b Backend) retrieveCounts(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*apiEventCounts, error) {
	remote, err := b.ensureSLO(ctx, slo, window)
	if err != nil {
		return nil, err
	}

	counts, err := b.client.GetSLOEventCounts(ctx, remote.ServiceID, remote.ID, ts.Add(-window), ts)
	if err != nil {
		return nil, fmt.Errorf("could not get SLO event counts: %w", err)
	}

	return counts, nil
}

// ensureSLO gets or creates the remote service and SLO, updating the SLO when
// the remote definition drifted from the local config.
func (b Backend) ensureSLO(ctx context.Context, slo model.SLO, window time.Duration) (*backend.RemoteSLO, error) {
	serviceID := buildServiceID(slo)

	_, err := b.client.GetService(ctx, serviceID)
	switch {
	case errors.Is(err, commonerrors.ErrNotFound):
		b.logger.Infof("Service %q not found, creating it", serviceID)
		_, err = b.client.CreateService(ctx, apiService{
			ID:          serviceID,
			DisplayName: fmt.Sprintf("%s %s", slo.ServiceName, slo.FeatureName),
		})
		if err != nil {
			return nil, fmt.Errorf("could not create service: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("could not get service: %w", err)
	}

	want := buildSLO(slo, window)

	got, err := b.client.GetSLO(ctx, serviceID, want.ID)
	switch {
	case errors.Is(err, commonerrors.ErrNotFound):
		b.logger.Infof("SLO %q not found, creating it", want.ID)
		got, err = b.client.CreateSLO(ctx, serviceID, want)
		if err != nil {
			return nil, fmt.Errorf("could not create SLO: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("could not get SLO: %w", err)
	case *got != want:
		b.logger.Warningf("SLO %q drifted from configuration, updating it", want.ID)
		got, err = b.client.UpdateSLO(ctx, serviceID, want)
		if err != nil {
			return nil, fmt.Errorf("could not update SLO: %w", err)
		}
	}

	return remoteSLO(serviceID, *got), nil
}

// GetSLO returns the remote SLO definition, ErrNotFound when it doesn't
// exist.
func (b Backend) GetSLO(ctx context.Context, slo model.SLO, window time.Duration) (*backend.RemoteSLO, error) {
	serviceID := buildServiceID(slo)
	got, err := b.client.GetSLO(ctx, serviceID, buildSLOID(slo, window))
	if err != nil {
		return nil, err
	}

	return remoteSLO(serviceID, *got), nil
}

// CreateSLO creates the remote SLO definition.
func (b Backend) CreateSLO(ctx context.Context, slo model.SLO, window time.Duration) (*backend.RemoteSLO, error) {
	serviceID := buildServiceID(slo)
	created, err := b.client.CreateSLO(ctx, serviceID, buildSLO(slo, window))
	if err != nil {
		return nil, err
	}

	return remoteSLO(serviceID, *created), nil
}

// UpdateSLO updates the remote SLO definition.
func (b Backend) UpdateSLO(ctx context.Context, slo model.SLO, window time.Duration) (*backend.RemoteSLO, error) {
	serviceID := buildServiceID(slo)
	updated, err := b.client.UpdateSLO(ctx, serviceID, buildSLO(slo, window))
	if err != nil {
		return nil, err
	}

	return remoteSLO(serviceID, *updated), nil
}

// DeleteSLO deletes the remote SLO definition, ErrNotFound when it doesn't
// exist.
func (b Backend) DeleteSLO(ctx context.Context, slo model.SLO, window time.Duration) error {
	return b.client.DeleteSLO(ctx, buildServiceID(slo), buildSLOID(slo, window))
}

// ListSLOs lists the remote SLO definitions of the SLO's service.
func (b Backend) ListSLOs(ctx context.Context, slo model.SLO) ([]backend.RemoteSLO, error) {
	serviceID := buildServiceID(slo)
	slos, err := b.client.ListSLOs(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	remotes := make([]backend.RemoteSLO, 0, len(slos))
	for _, s := range slos {
		remotes = append(remotes, *remoteSLO(serviceID, s))
	}

	return remotes, nil
}

// buildServiceID builds the remote service id from the SLO identity.
func buildServiceID(slo model.SLO) string {
	return fmt.Sprintf("%s-%s", slo.ServiceName, slo.FeatureName)
}

// buildSLOID builds the remote SLO id, one remote SLO per config and window.
func buildSLOID(slo model.SLO, window time.Duration) string {
	return fmt.Sprintf("%s-%d", slo.SLOName, int64(window/time.Second))
}

func buildSLO(slo model.SLO, window time.Duration) apiSLO {
	return apiSLO{
		ID:            buildSLOID(slo, window),
		DisplayName:   slo.SLODescription,
		Goal:          slo.SLOTarget,
		WindowSeconds: int64(window / time.Second),
		Method:        slo.Backend.Method,
	}
}

func remoteSLO(serviceID string, slo apiSLO) *backend.RemoteSLO {
	return &backend.RemoteSLO{
		ID:          slo.ID,
		ServiceID:   serviceID,
		DisplayName: slo.DisplayName,
		Goal:        slo.Goal,
		Window:      time.Duration(slo.WindowSeconds) * time.Second,
	}
}
