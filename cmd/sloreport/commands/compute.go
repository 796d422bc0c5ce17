package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsapi "github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	awscloudwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/oklog/run"
	prometheusapi "github.com/prometheus/client_golang/api"
	prometheusv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/slok/sloreport/internal/app/compute"
	"github.com/slok/sloreport/internal/backend"
	backendcloudmonitoring "github.com/slok/sloreport/internal/backend/cloudmonitoring"
	backendcloudwatch "github.com/slok/sloreport/internal/backend/cloudwatch"
	backendprometheus "github.com/slok/sloreport/internal/backend/prometheus"
	"github.com/slok/sloreport/internal/export"
	"github.com/slok/sloreport/internal/log"
	metricsprometheus "github.com/slok/sloreport/internal/metrics/prometheus"
	"github.com/slok/sloreport/internal/report"
	"github.com/slok/sloreport/internal/storage/fs"
)

type computeCommand struct {
	slosInput      string
	policyInput    string
	timestamp      string
	out            string
	exportReports  bool
	deleteSLOs     bool
	pushgtwURL     string
	pushgtwJob     string
	webhookURL     string
	webhookHeaders map[string]string
	backendTimeout time.Duration
	maxConcurrency int
}

// NewComputeCommand returns the compute command.
func NewComputeCommand(app *kingpin.Application) Command {
	c := &computeCommand{webhookHeaders: map[string]string{}}
	cmd := app.Command("compute", "Computes SLO reports.")
	cmd.Flag("input", "SLO config input path, a single file or a directory of `slo_*.yaml` files.").Short('i').Required().StringVar(&c.slosInput)
	cmd.Flag("policy", "Error budget policy file path.").Short('p').Default("error_budget_policy.yaml").StringVar(&c.policyInput)
	cmd.Flag("timestamp", "Report timestamp in RFC3339, current time if unset.").StringVar(&c.timestamp)
	cmd.Flag("out", "Reports output file path. If `-` it will use stdout.").Short('o').Default("-").StringVar(&c.out)
	cmd.Flag("export", "Ship the computed reports to the configured exporters.").Short('e').BoolVar(&c.exportReports)
	cmd.Flag("delete", "Delete the remote SLO definitions instead of computing reports.").BoolVar(&c.deleteSLOs)
	cmd.Flag("pushgateway-url", "Prometheus Pushgateway URL to export report metrics to.").StringVar(&c.pushgtwURL)
	cmd.Flag("pushgateway-job", "Prometheus Pushgateway job name.").Default("sloreport").StringVar(&c.pushgtwJob)
	cmd.Flag("webhook-url", "Webhook URL to POST the computed reports to.").StringVar(&c.webhookURL)
	cmd.Flag("webhook-header", "Extra header for the webhook requests (can be repeated).").StringMapVar(&c.webhookHeaders)
	cmd.Flag("backend-timeout", "Timeout of a single backend query.").Default("30s").DurationVar(&c.backendTimeout)
	cmd.Flag("max-concurrency", "Maximum SLO configs evaluated in parallel.").Default("5").IntVar(&c.maxConcurrency)

	return c
}

func (c computeCommand) Name() string { return "compute" }
func (c computeCommand) Run(ctx context.Context, config RootConfig) error {
	logger := config.Logger

	ts := time.Time{}
	if c.timestamp != "" {
		var err error
		ts, err = time.Parse(time.RFC3339, c.timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", c.timestamp, err)
		}
	}

	// Load SLO configs and error budget policy.
	loader := fs.NewConfigLoader(logger)
	slos, err := loader.LoadSLOsFromPath(ctx, c.slosInput)
	if err != nil {
		return fmt.Errorf("could not load SLO configs: %w", err)
	}

	policy, err := loader.LoadErrorBudgetPolicyFromPath(ctx, c.policyInput)
	if err != nil {
		return fmt.Errorf("could not load error budget policy: %w", err)
	}

	// Available metrics backends.
	registry := newBackendRegistry(c.backendTimeout, logger)

	// Reports output.
	var out io.Writer = config.Stdout
	if c.out != "-" {
		f, err := os.Create(c.out)
		if err != nil {
			return fmt.Errorf("could not create out file: %w", err)
		}
		defer f.Close()
		out = f
	}

	exporter, err := c.newExporter(out, logger)
	if err != nil {
		return fmt.Errorf("could not create exporter: %w", err)
	}

	metricsRecorder := metricsprometheus.NewRecorder(nil)

	reportComputer, err := report.NewService(report.ServiceConfig{
		QueryTimeout:    c.backendTimeout,
		MetricsRecorder: metricsRecorder,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("could not create report service: %w", err)
	}

	service, err := compute.NewService(compute.ServiceConfig{
		Backends:        registry,
		ReportComputer:  reportComputer,
		Exporter:        exporter,
		MaxConcurrency:  c.maxConcurrency,
		MetricsRecorder: metricsRecorder,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("could not create application service: %w", err)
	}

	// Prepare our run entrypoints.
	var g run.Group
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// OS signals.
	{
		sigC := make(chan os.Signal, 1)
		exitC := make(chan struct{})
		signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)

		g.Add(
			func() error {
				select {
				case s := <-sigC:
					logger.Infof("Signal %s received", s)
					return fmt.Errorf("stopped by signal %s", s)
				case <-exitC:
					return nil
				}
			},
			func(_ error) {
				close(exitC)
			},
		)
	}

	// Evaluation.
	{
		g.Add(
			func() error {
				resp, err := service.Compute(ctx, compute.Request{
					SLOs:      slos,
					Policy:    *policy,
					Timestamp: ts,
					Export:    c.exportReports,
					Delete:    c.deleteSLOs,
				})
				if err != nil {
					return err
				}

				var failed int
				for _, result := range resp.Results {
					if result.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d SLO configs failed", failed, len(resp.Results))
				}

				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// newBackendRegistry wires the full set of available metrics backends.
func newBackendRegistry(timeout time.Duration, logger log.Logger) *backend.Registry {
	registry := backend.NewRegistry()

	registry.MustRegister(backendprometheus.BackendClass, func(options map[string]string) (backend.Backend, error) {
		cli, err := prometheusapi.NewClient(prometheusapi.Config{Address: options["url"]})
		if err != nil {
			return nil, fmt.Errorf("could not create prometheus API client: %w", err)
		}

		return backendprometheus.NewBackend(backendprometheus.BackendConfig{
			Client: prometheusv1.NewAPI(cli),
			Logger: logger,
		})
	})

	registry.MustRegister(backendcloudwatch.BackendClass, func(options map[string]string) (backend.Backend, error) {
		awsConfig := awsapi.NewConfig()
		if region := options["region"]; region != "" {
			awsConfig = awsConfig.WithRegion(region)
		}
		sess, err := awssession.NewSession(awsConfig)
		if err != nil {
			return nil, fmt.Errorf("could not create AWS session: %w", err)
		}

		return backendcloudwatch.NewBackend(backendcloudwatch.BackendConfig{
			Client: awscloudwatch.New(sess),
			Logger: logger,
		})
	})

	registry.MustRegister(backendcloudmonitoring.BackendClass, func(options map[string]string) (backend.Backend, error) {
		return backendcloudmonitoring.NewBackend(backendcloudmonitoring.BackendConfig{
			URL:     options["url"],
			Timeout: timeout,
			Logger:  logger,
		})
	})

	return registry
}

// newExporter assembles the report exporters selected by the command flags.
// The JSON writer exporter is always on, Pushgateway and webhook join in when
// their URLs are set.
func (c computeCommand) newExporter(out io.Writer, logger log.Logger) (export.Exporter, error) {
	exporters := []export.Exporter{export.NewIOWriterJSONExporter(out, logger)}

	if c.pushgtwURL != "" {
		exporter, err := export.NewPushgatewayExporter(export.PushgatewayExporterConfig{
			URL:     c.pushgtwURL,
			JobName: c.pushgtwJob,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pushgateway: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	if c.webhookURL != "" {
		exporter, err := export.NewWebhookExporter(export.WebhookExporterConfig{
			URL:     c.webhookURL,
			Headers: c.webhookHeaders,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	if len(exporters) == 1 {
		return exporters[0], nil
	}

	return export.NewMultiExporter(exporters...), nil
}
