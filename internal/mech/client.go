// Package mech talks to the prediction marketplace: the agent asks a named
// tool a market question and later collects the tool's probability estimate.
package mech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oddlane/traderd/internal/domain"
)

// Request is a prediction task handed to a tool.
type Request struct {
	ID       string `json:"request_id"`
	Tool     string `json:"tool"`
	Question string `json:"question"`
}

// NewRequestID derives a deterministic request id from the decision
// context. Replicas building the same request derive the same id, which is
// what lets them agree on it, and what makes resubmission idempotent on the
// marketplace side.
func NewRequestID(parts ...string) string {
	var seed []byte
	for _, part := range parts {
		seed = append(seed, part...)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, seed).String()
}

// Client requests predictions and collects responses. Both calls are
// transient-failure-prone; rounds retry them until their deadline.
type Client interface {
	// RequestPrediction submits the request to its tool.
	RequestPrediction(ctx context.Context, req Request) error
	// FetchResponse returns the prediction for a request id, or
	// domain.ErrNotFound while the tool is still working.
	FetchResponse(ctx context.Context, requestID string) (*domain.PredictionResponse, error)
}

// HTTPClient implements Client over the marketplace HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given marketplace endpoint.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithTimeout overrides the default per-request timeout.
func (c *HTTPClient) WithTimeout(d time.Duration) *HTTPClient {
	if d > 0 {
		c.httpClient.Timeout = d
	}
	return c
}

// RequestPrediction implements Client.
func (c *HTTPClient) RequestPrediction(ctx context.Context, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mech: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/requests", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("mech: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mech: submit request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mech: submit request: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// responseEnvelope is the marketplace's response wire format. The result is
// a JSON string holding the tool's prediction fields.
type responseEnvelope struct {
	RequestID string  `json:"request_id"`
	Result    *string `json:"result"`
}

type predictionResult struct {
	PYes        float64 `json:"p_yes"`
	PNo         float64 `json:"p_no"`
	Confidence  float64 `json:"confidence"`
	InfoUtility float64 `json:"info_utility"`
}

// FetchResponse implements Client.
func (c *HTTPClient) FetchResponse(ctx context.Context, requestID string) (*domain.PredictionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/responses/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("mech: build response request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mech: fetch response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("mech: response %s: %w", requestID, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mech: fetch response: status %d: %s", resp.StatusCode, body)
	}

	var envelope responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("mech: decode response: %w", err)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("mech: response %s: %w", requestID, domain.ErrNotFound)
	}

	var result predictionResult
	if err := json.Unmarshal([]byte(*envelope.Result), &result); err != nil {
		return nil, fmt.Errorf("mech: %w: undecodable result: %v", domain.ErrInvalidPrediction, err)
	}
	prediction, err := domain.NewPredictionResponse(result.PYes, result.PNo, result.Confidence, result.InfoUtility)
	if err != nil {
		return nil, fmt.Errorf("mech: request %s: %w", requestID, err)
	}
	return prediction, nil
}
