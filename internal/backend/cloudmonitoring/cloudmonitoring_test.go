package cloudmonitoring_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/sloreport/internal/backend/cloudmonitoring"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

type testSLO struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"display_name"`
	Goal          float64 `json:"goal"`
	WindowSeconds int64   `json:"window_seconds"`
	Method        string  `json:"method"`
}

// testAPIServer is an in-memory service monitoring API.
type testAPIServer struct {
	mu       sync.Mutex
	services map[string]string  // service id -> display name.
	slos     map[string]testSLO // "serviceID/sloID" -> SLO.
	good     float64
	bad      float64
	requests []string // "METHOD path" of every received request.
}

func (s *testAPIServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/services"), "/")
		// parts: "" [serviceID [slos [sloID [counts]]]].

		switch {
		case len(parts) == 1 && r.Method == http.MethodPost: // Create service.
			service := struct {
				ID          string `json:"id"`
				DisplayName string `json:"display_name"`
			}{}
			_ = json.NewDecoder(r.Body).Decode(&service)
			s.services[service.ID] = service.DisplayName
			_ = json.NewEncoder(w).Encode(service)

		case len(parts) == 2 && r.Method == http.MethodGet: // Get service.
			name, ok := s.services[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"id":%q,"display_name":%q}`, parts[1], name)

		case len(parts) == 3 && parts[2] == "slos" && r.Method == http.MethodPost: // Create SLO.
			slo := testSLO{}
			_ = json.NewDecoder(r.Body).Decode(&slo)
			s.slos[parts[1]+"/"+slo.ID] = slo
			_ = json.NewEncoder(w).Encode(slo)

		case len(parts) == 4 && parts[2] == "slos": // Get/update/delete SLO.
			key := parts[1] + "/" + parts[3]
			switch r.Method {
			case http.MethodGet:
				slo, ok := s.slos[key]
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_ = json.NewEncoder(w).Encode(slo)
			case http.MethodPut:
				slo := testSLO{}
				_ = json.NewDecoder(r.Body).Decode(&slo)
				s.slos[key] = slo
				_ = json.NewEncoder(w).Encode(slo)
			case http.MethodDelete:
				if _, ok := s.slos[key]; !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				delete(s.slos, key)
				w.WriteHeader(http.StatusNoContent)
			}

		case len(parts) == 5 && parts[4] == "counts" && r.Method == http.MethodGet: // Event counts.
			if _, ok := s.slos[parts[1]+"/"+parts[3]]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"good_count":%v,"bad_count":%v}`, s.good, s.bad)

		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

func newTestServer() (*testAPIServer, *httptest.Server) {
	state := &testAPIServer{
		services: map[string]string{},
		slos:     map[string]testSLO{},
	}
	return state, httptest.NewServer(state.handler())
}

func getTestSLO() model.SLO {
	return model.SLO{
		ServiceName:    "test-svc",
		FeatureName:    "test-feature",
		SLOName:        "availability",
		SLODescription: "Test availability SLO.",
		SLOTarget:      0.99,
		Backend: model.BackendConfig{
			Class:  "cloud_monitoring",
			Method: model.MethodGoodBadRatio,
		},
	}
}

func TestBackendGoodBadRatio(t *testing.T) {
	assert := assert.New(t)

	state, server := newTestServer()
	defer server.Close()
	state.good, state.bad = 90, 10

	b, err := cloudmonitoring.NewBackend(cloudmonitoring.BackendConfig{URL: server.URL})
	require.NoError(t, err)

	m, err := b.GoodBadRatio(context.Background(), time.Unix(1700000000, 0), 1*time.Hour, getTestSLO())
	require.NoError(t, err)

	assert.Equal(&model.Measurement{GoodBadEvents: &model.GoodBadEvents{GoodCount: 90, BadCount: 10}}, m)

	// The missing remote service and SLO were created on the way.
	assert.Equal(map[string]string{"test-svc-test-feature": "test-svc test-feature"}, state.services)
	assert.Equal(map[string]testSLO{
		"test-svc-test-feature/availability-3600": {
			ID:            "availability-3600",
			DisplayName:   "Test availability SLO.",
			Goal:          0.99,
			WindowSeconds: 3600,
			Method:        "good_bad_ratio",
		},
	}, state.slos)
	assert.Contains(state.requests, "POST /v1/services")
	assert.Contains(state.requests, "POST /v1/services/test-svc-test-feature/slos")
}

func TestBackendGoodBadRatioExistingSLO(t *testing.T) {
	assert := assert.New(t)

	state, server := newTestServer()
	defer server.Close()
	state.services["test-svc-test-feature"] = "test-svc test-feature"
	state.slos["test-svc-test-feature/availability-3600"] = testSLO{
		ID:            "availability-3600",
		DisplayName:   "Test availability SLO.",
		Goal:          0.99,
		WindowSeconds: 3600,
		Method:        "good_bad_ratio",
	}

	b, err := cloudmonitoring.NewBackend(cloudmonitoring.BackendConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = b.GoodBadRatio(context.Background(), time.Unix(1700000000, 0), 1*time.Hour, getTestSLO())
	require.NoError(t, err)

	// A matching remote SLO is reused as is.
	for _, req := range state.requests {
		assert.NotContains(req, "POST")
		assert.NotContains(req, "PUT")
	}
}

func TestBackendGoodBadRatioDriftedSLO(t *testing.T) {
	assert := assert.New(t)

	state, server := newTestServer()
	defer server.Close()
	state.services["test-svc-test-feature"] = "test-svc test-feature"
	state.slos["test-svc-test-feature/availability-3600"] = testSLO{
		ID:            "availability-3600",
		DisplayName:   "Test availability SLO.",
		Goal:          0.9, // Drifted from the configured 0.99.
		WindowSeconds: 3600,
		Method:        "good_bad_ratio",
	}

	b, err := cloudmonitoring.NewBackend(cloudmonitoring.BackendConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = b.GoodBadRatio(context.Background(), time.Unix(1700000000, 0), 1*time.Hour, getTestSLO())
	require.NoError(t, err)

	assert.Contains(state.requests, "PUT /v1/services/test-svc-test-feature/slos/availability-3600")
	assert.Equal(0.99, state.slos["test-svc-test-feature/availability-3600"].Goal)
}

func TestBackendBasicSLI(t *testing.T) {
	tests := map[string]struct {
		good, bad float64
		expValue  float64
	}{
		"The counts should be normalized to a ratio.":                 {good: 9, bad: 1, expValue: 0.9},
		"A window without traffic should measure as fully compliant.": {expValue: 1},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			state, server := newTestServer()
			defer server.Close()
			state.good, state.bad = test.good, test.bad

			b, err := cloudmonitoring.NewBackend(cloudmonitoring.BackendConfig{URL: server.URL})
			require.NoError(t, err)

			m, err := b.BasicSLI(context.Background(), time.Unix(1700000000, 0), 1*time.Hour, getTestSLO())
			require.NoError(t, err)
			require.NotNil(t, m.Value)
			assert.Equal(test.expValue, m.Value.Value)
		})
	}
}

func TestBackendDeleteSLO(t *testing.T) {
	assert := assert.New(t)

	state, server := newTestServer()
	defer server.Close()
	state.services["test-svc-test-feature"] = "test-svc test-feature"
	state.slos["test-svc-test-feature/availability-3600"] = testSLO{ID: "availability-3600"}

	b, err := cloudmonitoring.NewBackend(cloudmonitoring.BackendConfig{URL: server.URL})
	require.NoError(t, err)

	err = b.DeleteSLO(context.Background(), getTestSLO(), 1*time.Hour)
	assert.NoError(err)
	assert.Empty(state.slos)

	// Deleting again surfaces the not found sentinel for the caller to branch
	// on.
	err = b.DeleteSLO(context.Background(), getTestSLO(), 1*time.Hour)
	assert.ErrorIs(err, commonerrors.ErrNotFound)
}
