package cloudmonitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	commonerrors "github.com/slok/sloreport/pkg/common/errors"
)

// apiService is the remote service resource.
type apiService struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// apiSLO is the remote SLO resource.
type apiSLO struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"display_name"`
	Goal          float64 `json:"goal"`
	WindowSeconds int64   `json:"window_seconds"`
	Method        string  `json:"method"`
}

// apiSLOList is the response of the SLO list endpoint.
type apiSLOList struct {
	SLOs []apiSLO `json:"slos"`
}

// apiEventCounts is the response of the SLO counts endpoint.
type apiEventCounts struct {
	GoodCount float64 `json:"good_count"`
	BadCount  float64 `json:"bad_count"`
}

// apiClient is a thin JSON/HTTP client for the service monitoring API. Every
// lookup on a missing resource returns pkg/common/errors.ErrNotFound, any
// other API failure maps to ErrQueryFailed.
type apiClient struct {
	baseURL string
	httpcli *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpcli: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) GetService(ctx context.Context, serviceID string) (*apiService, error) {
	service := &apiService{}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/services/%s", url.PathEscape(serviceID)), nil, service)
	if err != nil {
		return nil, err
	}
	return service, nil
}

func (c *apiClient) CreateService(ctx context.Context, service apiService) (*apiService, error) {
	created := &apiService{}
	err := c.do(ctx, http.MethodPost, "/v1/services", service, created)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *apiClient) GetSLO(ctx context.Context, serviceID, sloID string) (*apiSLO, error) {
	slo := &apiSLO{}
	err := c.do(ctx, http.MethodGet, c.sloPath(serviceID, sloID), nil, slo)
	if err != nil {
		return nil, err
	}
	return slo, nil
}

func (c *apiClient) CreateSLO(ctx context.Context, serviceID string, slo apiSLO) (*apiSLO, error) {
	created := &apiSLO{}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/services/%s/slos", url.PathEscape(serviceID)), slo, created)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *apiClient) UpdateSLO(ctx context.Context, serviceID string, slo apiSLO) (*apiSLO, error) {
	updated := &apiSLO{}
	err := c.do(ctx, http.MethodPut, c.sloPath(serviceID, slo.ID), slo, updated)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *apiClient) DeleteSLO(ctx context.Context, serviceID, sloID string) error {
	return c.do(ctx, http.MethodDelete, c.sloPath(serviceID, sloID), nil, nil)
}

func (c *apiClient) ListSLOs(ctx context.Context, serviceID string) ([]apiSLO, error) {
	list := &apiSLOList{}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/services/%s/slos", url.PathEscape(serviceID)), nil, list)
	if err != nil {
		return nil, err
	}
	return list.SLOs, nil
}

func (c *apiClient) GetSLOEventCounts(ctx context.Context, serviceID, sloID string, from, to time.Time) (*apiEventCounts, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	counts := &apiEventCounts{}
	err := c.do(ctx, http.MethodGet, c.sloPath(serviceID, sloID)+"/counts?"+q.Encode(), nil, counts)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *apiClient) sloPath(serviceID, sloID string) string {
	return fmt.Sprintf("/v1/services/%s/slos/%s", url.PathEscape(serviceID), url.PathEscape(sloID))
}

func (c *apiClient) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpcli.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, commonerrors.ErrQueryFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, commonerrors.ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, strings.TrimSpace(string(data)), commonerrors.ErrQueryFailed)
	}

	if respBody == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(respBody)
	if err != nil {
		return fmt.Errorf("could not decode response: %v: %w", err, commonerrors.ErrQueryFailed)
	}

	return nil
}
