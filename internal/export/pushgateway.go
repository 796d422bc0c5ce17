package export

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

const (
	pushMetricNamespace = "sloreport"
	defaultPushJobName  = "sloreport"
	defaultPushTimeout  = 10 * time.Second
)

var pushLabelNames = []string{"service_name", "feature_name", "slo_name", "error_budget_policy_step_name", "window"}

// PushgatewayExporterConfig is the Prometheus Pushgateway exporter
// configuration.
type PushgatewayExporterConfig struct {
	// URL is the Pushgateway base URL.
	URL     string
	JobName string
	Timeout time.Duration
	Logger  log.Logger
}

func (c *PushgatewayExporterConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("pushgateway URL is required")
	}

	if c.JobName == "" {
		c.JobName = defaultPushJobName
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultPushTimeout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "export.Pushgateway"})

	return nil
}

// NewPushgatewayExporter returns an exporter that pushes the report figures
// as gauges to a Prometheus Pushgateway.
func NewPushgatewayExporter(config PushgatewayExporterConfig) (Exporter, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return pushgatewayExporter{
		url:     config.URL,
		jobName: config.JobName,
		httpcli: &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}, nil
}

type pushgatewayExporter struct {
	url     string
	jobName string
	httpcli *http.Client
	logger  log.Logger
}

func (p pushgatewayExporter) Export(ctx context.Context, reports []model.Report) error {
	if len(reports) == 0 {
		return commonerrors.ErrNoReports
	}

	reg := prometheus.NewRegistry()
	gauges := map[string]*prometheus.GaugeVec{}
	for name, help := range map[string]string{
		"sli_measurement":        "SLI measured for the window.",
		"error_budget_remaining": "Fraction of the error budget remaining for the window.",
		"error_budget_burn_rate": "Error budget burn rate for the window.",
		"alert":                  "1 when the burn rate reached the policy step threshold.",
	} {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: pushMetricNamespace,
			Name:      name,
			Help:      help,
		}, pushLabelNames)
		reg.MustRegister(g)
		gauges[name] = g
	}

	for _, report := range reports {
		labels := prometheus.Labels{
			"service_name":                  report.ServiceName,
			"feature_name":                  report.FeatureName,
			"slo_name":                      report.SLOName,
			"error_budget_policy_step_name": report.StepName,
			"window":                        strconv.FormatInt(report.Window, 10),
		}

		gauges["sli_measurement"].With(labels).Set(report.SLIMeasurement)
		gauges["error_budget_remaining"].With(labels).Set(report.ErrorBudgetRemaining)
		gauges["error_budget_burn_rate"].With(labels).Set(report.BurnRate)
		alert := 0.0
		if report.Alert {
			alert = 1
		}
		gauges["alert"].With(labels).Set(alert)
	}

	err := push.New(p.url, p.jobName).
		Gatherer(reg).
		Client(p.httpcli).
		Push()
	if err != nil {
		return fmt.Errorf("could not push reports to pushgateway: %w", err)
	}

	p.logger.Debugf("Pushed %d reports to pushgateway", len(reports))

	return nil
}
