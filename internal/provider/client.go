package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/pkg/models"
)

const (
	// DefaultHTTPTimeout is the default timeout for a single HTTP request.
	// Generation itself is asynchronous, so requests only submit or query.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultBaseURL is used when no base URL is configured
	DefaultBaseURL = "https://api.replicate.com/v1"
)

// ClientOptions configures the HTTP prediction client
type ClientOptions struct {
	BaseURL             string
	APIKey              string
	HTTPClient          *http.Client
	Timeout             time.Duration
	SubmitRatePerMinute int // 0 disables submission rate limiting
	StatusRatePerMinute int // 0 disables status query rate limiting
	Logger              *slog.Logger
	Metrics             *metrics.Collector
}

// HTTPClient talks to a prediction-style inference API:
// POST {base}/predictions and GET {base}/predictions/{id}.
type HTTPClient struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	submitRPM       int
	statusRPM       int
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	metrics         *metrics.Collector
}

// NewHTTPClient creates a new prediction API client
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPClient{
		httpClient:      httpClient,
		baseURL:         baseURL,
		apiKey:          strings.TrimSpace(opts.APIKey),
		submitRPM:       opts.SubmitRatePerMinute,
		statusRPM:       opts.StatusRatePerMinute,
		rateLimiterPool: NewRateLimiterPool(logger),
		logger:          logger.With("component", "provider"),
		metrics:         opts.Metrics,
	}
}

// CreateJob submits a prediction and returns its id
func (c *HTTPClient) CreateJob(ctx context.Context, modelID string, input Input) (string, error) {
	if strings.TrimSpace(modelID) == "" {
		return "", &models.ValidationError{Field: "model_id", Reason: "must not be empty"}
	}
	if err := c.waitLimiter(ctx, "submit:"+modelID, c.submitRPM); err != nil {
		return "", err
	}

	buf := getBuffer()
	defer putBuffer(buf)
	if err := json.NewEncoder(buf).Encode(predictionRequest{Model: modelID, Input: input}); err != nil {
		return "", &models.SubmissionError{Message: "failed to encode request", Err: err}
	}

	var pred prediction
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/predictions", buf.Bytes(), &pred); err != nil {
		return "", err
	}
	if strings.TrimSpace(pred.ID) == "" {
		return "", &models.SubmissionError{Message: "provider returned no job id"}
	}

	c.logger.Debug("Submitted job", "job_id", pred.ID, "model", modelID, "status", pred.Status)
	return pred.ID, nil
}

// GetJobStatus fetches the current state of a prediction
func (c *HTTPClient) GetJobStatus(ctx context.Context, jobID string) (StatusResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return StatusResponse{}, &models.ValidationError{Field: "job_id", Reason: "must not be empty"}
	}
	if err := c.waitLimiter(ctx, "status:"+c.baseURL, c.statusRPM); err != nil {
		return StatusResponse{}, err
	}

	var pred prediction
	endpoint := c.baseURL + "/predictions/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &pred); err != nil {
		return StatusResponse{}, err
	}

	status, known := mapStatus(pred.Status)
	if !known {
		c.logger.Warn("Unknown job status, treating as processing", "job_id", jobID, "status", pred.Status)
	}
	return StatusResponse{
		Status: status,
		Output: decodeOutput(pred.Output),
		Error:  decodeMessage(pred.Error),
	}, nil
}

func (c *HTTPClient) waitLimiter(ctx context.Context, key string, rpm int) error {
	start := time.Now()
	if err := c.rateLimiterPool.Wait(ctx, key, rpm); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	c.metrics.RecordRateLimiterWait(key, time.Since(start))
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &models.SubmissionError{Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &models.TransientProviderError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &models.TransientProviderError{Message: "failed to read response", Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return classifyStatus(httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.TransientProviderError{
			StatusCode: httpResp.StatusCode,
			Message:    "failed to parse response",
			Err:        err,
		}
	}
	return nil
}

// classifyStatus turns a non-2xx response into the matching typed error
func classifyStatus(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.message() != "" {
		msg = errResp.message()
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	if isStatusCodeRetryable(statusCode) {
		return &models.TransientProviderError{StatusCode: statusCode, Message: msg}
	}
	return &models.SubmissionError{StatusCode: statusCode, Message: msg}
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits, queue overload and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// IsSubmissionError reports whether err is a provider rejection
func IsSubmissionError(err error) bool {
	var sub *models.SubmissionError
	return errors.As(err, &sub)
}
