package cloudwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatch"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// BackendClass is the registry class name of the CloudWatch backend.
const BackendClass = "cloudwatch"

const maxDatapoints = 1000

// CloudWatchAPIClient is an interface that defines the methods we use from
// the AWS CloudWatch client, so it can be mocked in tests.
type CloudWatchAPIClient interface {
	GetMetricDataWithContext(ctx aws.Context, input *cloudwatch.GetMetricDataInput, opts ...request.Option) (*cloudwatch.GetMetricDataOutput, error)
}

// BackendConfig is the CloudWatch backend configuration.
type BackendConfig struct {
	Client CloudWatchAPIClient
	Logger log.Logger
}

func (c *BackendConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("cloudwatch API client is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"backend": BackendClass})

	return nil
}

// Backend measures SLIs from AWS CloudWatch metric data.
//
// Implements the `good_bad_ratio` method over metric descriptors aggregated
// with the Sum statistic.
type Backend struct {
	client CloudWatchAPIClient
	logger log.Logger
}

// NewBackend returns a new CloudWatch backend.
func NewBackend(config BackendConfig) (*Backend, error) {
	err := config.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Backend{
		client: config.Client,
		logger: config.Logger,
	}, nil
}

func (b Backend) Class() string { return BackendClass }

// GoodBadRatio queries the good events metric and one of the bad/valid events
// metrics over the window and returns the raw counts.
func (b Backend) GoodBadRatio(ctx context.Context, ts time.Time, window time.Duration, slo model.SLO) (*model.Measurement, error) {
	m := slo.Backend.Measurement
	if m.MetricGood == nil {
		return nil, fmt.Errorf("metric_good is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	// Exactly one of `metric_bad` or `metric_valid` is required.
	if (m.MetricBad == nil) == (m.MetricValid == nil) {
		return nil, fmt.Errorf("oneof metric_bad or metric_valid is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	counter := m.MetricBad
	counterID := "bad"
	if counter == nil {
		counter = m.MetricValid
		counterID = "valid"
	}

	input := &cloudwatch.GetMetricDataInput{
		StartTime:     aws.Time(ts.Add(-window)),
		EndTime:       aws.Time(ts),
		MaxDatapoints: aws.Int64(maxDatapoints),
		MetricDataQueries: []*cloudwatch.MetricDataQuery{
			metricDataQuery("good", *m.MetricGood, window),
			metricDataQuery(counterID, *counter, window),
		},
	}

	b.logger.Debugf("Querying CloudWatch metric data, window=%s, ts=%s", window, ts)

	resp, err := b.client.GetMetricDataWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("could not get metric data: %v: %w", err, commonerrors.ErrQueryFailed)
	}

	counts := map[string]float64{}
	for _, result := range resp.MetricDataResults {
		if result.Id == nil {
			continue
		}
		var sum float64
		for _, value := range result.Values {
			sum += aws.Float64Value(value)
		}
		counts[aws.StringValue(result.Id)] = sum
	}

	good, ok := counts["good"]
	if !ok {
		return nil, fmt.Errorf("good events metric missing on response: %w", commonerrors.ErrQueryFailed)
	}

	if counterID == "bad" {
		return &model.Measurement{GoodBadEvents: &model.GoodBadEvents{GoodCount: good, BadCount: counts["bad"]}}, nil
	}

	return &model.Measurement{GoodValidEvents: &model.GoodValidEvents{GoodCount: good, ValidCount: counts["valid"]}}, nil
}

// metricDataQuery builds the query body of a single metric for the CloudWatch
// GetMetricData API.
func metricDataQuery(id string, metric model.MetricDescriptor, window time.Duration) *cloudwatch.MetricDataQuery {
	dimensions := make([]*cloudwatch.Dimension, 0, len(metric.Dimensions))
	for name, value := range metric.Dimensions {
		dimensions = append(dimensions, &cloudwatch.Dimension{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	return &cloudwatch.MetricDataQuery{
		Id: aws.String(id),
		MetricStat: &cloudwatch.MetricStat{
			Metric: &cloudwatch.Metric{
				Namespace:  aws.String(metric.Namespace),
				MetricName: aws.String(metric.Name),
				Dimensions: dimensions,
			},
			Period: aws.Int64(int64(window / time.Second)),
			Stat:   aws.String(cloudwatch.StatisticSum),
			Unit:   aws.String(cloudwatch.StandardUnitCount),
		},
		ReturnData: aws.Bool(true),
	}
}
