package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookExporterConfig is the webhook exporter configuration.
type WebhookExporterConfig struct {
	// URL receives a POST with the reports batch as a JSON array.
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Logger  log.Logger
}

func (c *WebhookExporterConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultWebhookTimeout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "export.Webhook"})

	return nil
}

// NewWebhookExporter returns an exporter that POSTs the reports batch as a
// JSON array to an HTTP endpoint.
func NewWebhookExporter(config WebhookExporterConfig) (Exporter, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return webhookExporter{
		url:     config.URL,
		headers: config.Headers,
		httpcli: &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}, nil
}

type webhookExporter struct {
	url     string
	headers map[string]string
	httpcli *http.Client
	logger  log.Logger
}

func (w webhookExporter) Export(ctx context.Context, reports []model.Report) error {
	if len(reports) == 0 {
		return commonerrors.ErrNoReports
	}

	body, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("could not marshal reports: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpcli.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debugf("Exported %d reports to webhook", len(reports))

	return nil
}
