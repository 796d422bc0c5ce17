package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/sloreport/pkg/common/model"
)

// Exporter knows how to ship a batch of computed SLO reports somewhere
// (stdout, pushgateway, webhook...). Reports are immutable data, exporters
// are pure consumers.
type Exporter interface {
	Export(ctx context.Context, reports []model.Report) error
}

// Noop exporter doesn't export anything.
const Noop = noop(0)

type noop int

func (noop) Export(ctx context.Context, reports []model.Report) error { return nil }

// NewMultiExporter returns an exporter that fans out every report batch to
// all the given exporters. One exporter failing doesn't prevent delivery to
// the rest, the failures are joined on the returned error.
func NewMultiExporter(exporters ...Exporter) Exporter {
	return multi{exporters: exporters}
}

type multi struct {
	exporters []Exporter
}

func (m multi) Export(ctx context.Context, reports []model.Report) error {
	var errs []error
	for _, e := range m.exporters {
		err := e.Export(ctx, reports)
		if err != nil {
			errs = append(errs, fmt.Errorf("exporter failed: %w", err))
		}
	}

	return errors.Join(errs...)
}
