package backend

import (
	"context"
	"time"

	"github.com/slok/sloreport/pkg/common/model"
)

// Backend is a metrics query backend. Concrete implementations declare the
// SLI methods they support by implementing the capability interfaces below,
// the report engine resolves the capability matching the SLO config method.
type Backend interface {
	// Class returns the backend class name, used on registry resolution and
	// error messages.
	Class() string
}

// GoodBadRatioBackend knows how to query raw good/bad (or good/valid) event
// counts for a window ending at the given timestamp.
type GoodBadRatioBackend interface {
	Backend
	GoodBadRatio(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)
}

// DistributionCutBackend knows how to measure the ratio of events below a
// threshold on a distribution, returned as a direct SLI value.
type DistributionCutBackend interface {
	Backend
	DistributionCut(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)
}

// BasicSLIBackend knows how to measure provider-assisted basic SLIs
// (availability, latency...) returned as a direct SLI value.
type BasicSLIBackend interface {
	Backend
	BasicSLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)
}

// WindowSLIBackend knows how to measure provider-assisted window based SLIs
// returned as a direct SLI value.
type WindowSLIBackend interface {
	Backend
	WindowSLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)
}

// QuerySLIBackend knows how to run a single query whose result is the SLI
// value itself.
type QuerySLIBackend interface {
	Backend
	QuerySLI(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error)
}

// RemoteSLO is an SLO definition hosted by the backend provider.
type RemoteSLO struct {
	ID          string
	ServiceID   string
	DisplayName string
	Goal        float64
	Window      time.Duration
}

// SLOProvider is implemented by backends that host SLO definitions remotely.
// Lookups return pkg/common/errors.ErrNotFound when the remote resource does
// not exist, callers branch on the sentinel instead of catching failures.
type SLOProvider interface {
	Backend
	GetSLO(ctx context.Context, slo model.SLO, window time.Duration) (*RemoteSLO, error)
	CreateSLO(ctx context.Context, slo model.SLO, window time.Duration) (*RemoteSLO, error)
	UpdateSLO(ctx context.Context, slo model.SLO, window time.Duration) (*RemoteSLO, error)
	DeleteSLO(ctx context.Context, slo model.SLO, window time.Duration) error
	ListSLOs(ctx context.Context, slo model.SLO) ([]RemoteSLO, error)
}
