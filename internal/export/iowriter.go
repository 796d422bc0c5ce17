package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// NewIOWriterJSONExporter returns an exporter that writes every report as a
// JSON object, one per line, to the given writer. This is the default export
// used for stdout.
func NewIOWriterJSONExporter(writer io.Writer, logger log.Logger) Exporter {
	return ioWriterJSONExporter{
		writer: writer,
		logger: logger.WithValues(log.Kv{"svc": "export.IOWriter", "format": "json"}),
	}
}

type ioWriterJSONExporter struct {
	writer io.Writer
	logger log.Logger
}

func (i ioWriterJSONExporter) Export(ctx context.Context, reports []model.Report) error {
	if len(reports) == 0 {
		return commonerrors.ErrNoReports
	}

	encoder := json.NewEncoder(i.writer)
	for _, report := range reports {
		err := encoder.Encode(report)
		if err != nil {
			return fmt.Errorf("could not encode report: %w", err)
		}
	}

	i.logger.Debugf("Exported %d reports", len(reports))

	return nil
}
