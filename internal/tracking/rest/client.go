// Package rest implements tracking.Store against a tracking server's REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mlpipe/internal/tracking"
	"mlpipe/pkg/api"

	"golang.org/x/time/rate"
)

const apiPrefix = "/api/2.0/mlflow"

// Client handles API calls to the tracking server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewClient creates a new client with the given base URL and token.
// A positive requestsPerSecond throttles outgoing calls.
func NewClient(baseURL, token string, requestsPerSecond float64) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, tracking.ErrNotFound) match missing resources.
func (e *APIError) Is(target error) bool {
	return target == tracking.ErrNotFound &&
		(e.ErrorCode == api.ErrorCodeResourceDoesNotExist || e.StatusCode == http.StatusNotFound)
}

// do sends a request to path under the API prefix and decodes a 200
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := c.BaseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.ErrorCode != "" {
			apiErr.ErrorCode = errResp.ErrorCode
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// GetExperimentByName sends GET /experiments/get-by-name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*api.Experiment, error) {
	var result api.GetExperimentByNameResponse
	err := c.do(ctx, http.MethodGet, "/experiments/get-by-name", url.Values{"experiment_name": {name}}, nil, &result)
	if err != nil {
		return nil, err
	}
	return &result.Experiment, nil
}

// CreateExperiment sends POST /experiments/create.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var result api.CreateExperimentResponse
	err := c.do(ctx, http.MethodPost, "/experiments/create", nil, api.CreateExperimentRequest{Name: name}, &result)
	if err != nil {
		return "", err
	}
	return result.ExperimentID, nil
}

// CreateRun sends POST /runs/create.
func (c *Client) CreateRun(ctx context.Context, opts tracking.CreateRunOptions) (*api.RunInfo, error) {
	startTime := opts.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}

	req := api.CreateRunRequest{
		ExperimentID: opts.ExperimentID,
		RunName:      opts.RunName,
		StartTime:    api.Millis(startTime),
	}
	for k, v := range opts.Tags {
		req.Tags = append(req.Tags, api.RunTag{Key: k, Value: v})
	}

	var result api.CreateRunResponse
	if err := c.do(ctx, http.MethodPost, "/runs/create", nil, req, &result); err != nil {
		return nil, err
	}
	return &result.Run.Info, nil
}

// UpdateRun sends POST /runs/update.
func (c *Client) UpdateRun(ctx context.Context, runID string, status api.RunStatus, endTime time.Time) error {
	req := api.UpdateRunRequest{RunID: runID, Status: status}
	if !endTime.IsZero() {
		req.EndTime = api.Millis(endTime)
	}
	return c.do(ctx, http.MethodPost, "/runs/update", nil, req, nil)
}

// GetRun sends GET /runs/get.
func (c *Client) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	var result api.GetRunResponse
	if err := c.do(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &result); err != nil {
		return nil, err
	}
	return &result.Run, nil
}

// LogParams sends POST /runs/log-batch with the params.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	req := api.LogBatchRequest{RunID: runID}
	for k, v := range params {
		req.Params = append(req.Params, api.Param{Key: k, Value: v})
	}
	return c.do(ctx, http.MethodPost, "/runs/log-batch", nil, req, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}

var _ tracking.Store = (*Client)(nil)
