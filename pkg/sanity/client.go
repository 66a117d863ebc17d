// Package sanity is a minimal client for the Sanity content store HTTP API,
// covering GROQ queries, document mutations, and third-party session issuance.
package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/copperline/stile/pkg/observability"
)

const (
	defaultTimeout = 15 * time.Second
	apiVersion     = "v1"
)

// Config holds connection settings for a Sanity project
type Config struct {
	ProjectID string
	Dataset   string
	// Token must carry write access to the dataset and permission to create
	// third-party sessions.
	Token string
	// BaseURL overrides the project API endpoint, used in tests
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the Sanity HTTP API for a single project and dataset
type Client struct {
	baseURL    string
	dataset    string
	token      string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates a new Sanity API client
func NewClient(cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	if cfg.ProjectID == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("sanity: project ID is required")
	}
	if cfg.Dataset == "" {
		return nil, fmt.Errorf("sanity: dataset is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("sanity: API token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.api.sanity.io", cfg.ProjectID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Client{
		baseURL:    baseURL,
		dataset:    cfg.Dataset,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Query runs a GROQ query against the dataset and returns the raw result.
// Params are passed as $-prefixed JSON-encoded query arguments.
func (c *Client) Query(ctx context.Context, groq string, params map[string]interface{}) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("query", groq)
	for name, value := range params {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("sanity: encoding query param %q: %w", name, err)
		}
		values.Set("$"+name, string(encoded))
	}

	endpoint := fmt.Sprintf("%s/%s/data/query/%s?%s", c.baseURL, apiVersion, c.dataset, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("sanity: building query request: %w", err)
	}

	body, err := c.do(req, "query")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("sanity: decoding query response: %w", err)
	}

	return envelope.Result, nil
}

// Mutation is a single entry in a mutate request, e.g.
// {"createIfNotExists": {...}} or {"patch": {...}}.
type Mutation map[string]interface{}

// Mutate submits mutations to the dataset in a single transaction
func (c *Client) Mutate(ctx context.Context, mutations []Mutation) error {
	payload, err := json.Marshal(map[string]interface{}{
		"mutations": mutations,
	})
	if err != nil {
		return fmt.Errorf("sanity: encoding mutations: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/data/mutate/%s?returnDocuments=false", c.baseURL, apiVersion, c.dataset)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sanity: building mutate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "mutate")
	return err
}

// Ping verifies the API is reachable and the token is accepted
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "count(*[_type == $type])", map[string]interface{}{
		"type": "system.group",
	})
	return err
}

// APIError is a non-2xx response from the Sanity API
type APIError struct {
	StatusCode int
	Operation  string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sanity: %s request failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		c.recordRequest(operation, "error", duration)
		return nil, fmt.Errorf("sanity: %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordRequest(operation, "error", duration)
		return nil, fmt.Errorf("sanity: reading %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordRequest(operation, strconv.Itoa(resp.StatusCode), duration)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Operation:  operation,
			Body:       string(body),
		}
	}

	c.recordRequest(operation, "success", duration)
	return body, nil
}

func (c *Client) recordRequest(operation, status string, duration float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.StoreRequestsTotal.WithLabelValues(operation, status).Inc()
	c.metrics.StoreRequestDuration.WithLabelValues(operation).Observe(duration)
}
