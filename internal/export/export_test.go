package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/sloreport/internal/export"
	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

func getTestReports() []model.Report {
	return []model.Report{
		{
			ServiceName:          "test-svc",
			FeatureName:          "test-feature",
			SLOName:              "availability",
			StepName:             "1 hour",
			Timestamp:            1700000000,
			TimestampHuman:       "2023-11-14T22:13:20Z",
			Window:               3600,
			SLIMeasurement:       0.9,
			SLOTarget:            0.95,
			GoodEventsCount:      90,
			BadEventsCount:       10,
			ErrorBudgetTarget:    0.05,
			ErrorBudgetRemaining: -1,
			BurnRate:             2,
			Alert:                true,
			Message:              "Page the on-call.",
		},
		{
			ServiceName:    "test-svc",
			FeatureName:    "test-feature",
			SLOName:        "availability",
			StepName:       "12 hours",
			Window:         43200,
			SLIMeasurement: 0.99,
			SLOTarget:      0.95,
			BurnRate:       0.2,
			Message:        "Within budget.",
		},
	}
}

func TestIOWriterJSONExporter(t *testing.T) {
	assert := assert.New(t)

	var b bytes.Buffer
	exporter := export.NewIOWriterJSONExporter(&b, log.Noop)

	err := exporter.Export(context.Background(), getTestReports())
	require.NoError(t, err)

	// One JSON object per line, snake_case keys.
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 2)

	got := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal("test-svc", got["service_name"])
	assert.Equal("1 hour", got["error_budget_policy_step_name"])
	assert.Equal(0.9, got["sli_measurement"])
	assert.Equal(float64(3600), got["window"])
	assert.Equal(true, got["alert"])
	assert.Equal(float64(2), got["burn_rate"])
}

func TestIOWriterJSONExporterNoReports(t *testing.T) {
	var b bytes.Buffer
	exporter := export.NewIOWriterJSONExporter(&b, log.Noop)

	err := exporter.Export(context.Background(), nil)
	assert.ErrorIs(t, err, commonerrors.ErrNoReports)
	assert.Empty(t, b.String())
}

func TestWebhookExporter(t *testing.T) {
	assert := assert.New(t)

	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
	}))
	defer server.Close()

	exporter, err := export.NewWebhookExporter(export.WebhookExporterConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	require.NoError(t, err)

	err = exporter.Export(context.Background(), getTestReports())
	require.NoError(t, err)

	assert.Equal("application/json", gotHeaders.Get("Content-Type"))
	assert.Equal("Bearer test-token", gotHeaders.Get("Authorization"))

	reports := []map[string]interface{}{}
	require.NoError(t, json.Unmarshal(gotBody, &reports))
	require.Len(t, reports, 2)
	assert.Equal("availability", reports[0]["slo_name"])
}

func TestWebhookExporterFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	exporter, err := export.NewWebhookExporter(export.WebhookExporterConfig{URL: server.URL})
	require.NoError(t, err)

	err = exporter.Export(context.Background(), getTestReports())
	assert.Error(t, err)
}

func TestPushgatewayExporter(t *testing.T) {
	assert := assert.New(t)

	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	exporter, err := export.NewPushgatewayExporter(export.PushgatewayExporterConfig{
		URL:     server.URL,
		JobName: "test-job",
	})
	require.NoError(t, err)

	err = exporter.Export(context.Background(), getTestReports())
	require.NoError(t, err)

	assert.Equal("/metrics/job/test-job", gotPath)

	// The pushed payload carries the report metrics and their label values,
	// whatever the exposition format.
	body := string(gotBody)
	assert.Contains(body, "sloreport_sli_measurement")
	assert.Contains(body, "sloreport_error_budget_burn_rate")
	assert.Contains(body, "sloreport_alert")
	assert.Contains(body, "availability")
}

type testExporter struct {
	calls int
	err   error
}

func (t *testExporter) Export(ctx context.Context, reports []model.Report) error {
	t.calls++
	return t.err
}

func TestMultiExporter(t *testing.T) {
	assert := assert.New(t)

	ok1 := &testExporter{}
	broken := &testExporter{err: fmt.Errorf("target down")}
	ok2 := &testExporter{}

	exporter := export.NewMultiExporter(ok1, broken, ok2)
	err := exporter.Export(context.Background(), getTestReports())

	// One failing exporter doesn't prevent delivery to the rest.
	assert.Error(err)
	assert.Equal(1, ok1.calls)
	assert.Equal(1, broken.calls)
	assert.Equal(1, ok2.calls)
}
