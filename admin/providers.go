// Package admin implements the privileged status aggregation and service
// control layer over the key-pool's external collaborators.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AdminKeyHeader is the shared-secret header forwarded on outbound calls
// to sibling admin endpoints.
const AdminKeyHeader = "X-Admin-Key"

// KeyPoolStats reports the state of the managed Gemini key pool.
type KeyPoolStats struct {
	Success       bool   `json:"success"`
	TotalKeys     int    `json:"total_keys"`
	ActiveKeys    int    `json:"active_keys"`
	ExhaustedKeys int    `json:"exhausted_keys"`
	InvalidKeys   int    `json:"invalid_keys"`
	Error         string `json:"error,omitempty"`
}

// TokenStats reports the state of the GitHub token pool.
type TokenStats struct {
	Success           bool   `json:"success"`
	TotalTokens       int    `json:"total_tokens"`
	ValidTokens       int    `json:"valid_tokens"`
	RateLimitedTokens int    `json:"rate_limited_tokens"`
	Error             string `json:"error,omitempty"`
}

// ExecutionEntry is one background job run as reported by the history
// provider.
type ExecutionEntry struct {
	Service    string    `json:"service"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Processed  int       `json:"processed"`
	Error      string    `json:"error,omitempty"`
}

// ExecutionHistory is the history provider's response.
type ExecutionHistory struct {
	Success    bool             `json:"success"`
	Executions []ExecutionEntry `json:"executions"`
	Error      string           `json:"error,omitempty"`
}

// SystemStatusReport is the system-status provider's response.
type SystemStatusReport struct {
	Success  bool              `json:"success"`
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ProviderClient fetches status reports from the four external
// collaborators. All calls carry the admin key header and honor the
// caller's context.
type ProviderClient struct {
	httpClient *http.Client
	adminKey   string

	keyPoolStatsURL     string
	tokenStatsURL       string
	executionHistoryURL string
	systemStatusURL     string
}

// NewProviderClient creates a ProviderClient. A nil httpClient falls back
// to a client with a 30 second timeout.
func NewProviderClient(httpClient *http.Client, adminKey, keyPoolStatsURL, tokenStatsURL, executionHistoryURL, systemStatusURL string) *ProviderClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProviderClient{
		httpClient:          httpClient,
		adminKey:            adminKey,
		keyPoolStatsURL:     keyPoolStatsURL,
		tokenStatsURL:       tokenStatsURL,
		executionHistoryURL: executionHistoryURL,
		systemStatusURL:     systemStatusURL,
	}
}

// KeyPoolStats fetches key pool statistics.
func (p *ProviderClient) KeyPoolStats(ctx context.Context) (*KeyPoolStats, error) {
	var out KeyPoolStats
	if err := p.getJSON(ctx, p.keyPoolStatsURL, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("key pool stats provider reported failure: %s", out.Error)
	}
	return &out, nil
}

// TokenStats fetches token pool statistics.
func (p *ProviderClient) TokenStats(ctx context.Context) (*TokenStats, error) {
	var out TokenStats
	if err := p.getJSON(ctx, p.tokenStatsURL, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("token stats provider reported failure: %s", out.Error)
	}
	return &out, nil
}

// ExecutionHistory fetches recent background job runs.
func (p *ProviderClient) ExecutionHistory(ctx context.Context) (*ExecutionHistory, error) {
	var out ExecutionHistory
	if err := p.getJSON(ctx, p.executionHistoryURL, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("execution history provider reported failure: %s", out.Error)
	}
	return &out, nil
}

// SystemStatus fetches the overall system status report.
func (p *ProviderClient) SystemStatus(ctx context.Context) (*SystemStatusReport, error) {
	var out SystemStatusReport
	if err := p.getJSON(ctx, p.systemStatusURL, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("system status provider reported failure: %s", out.Error)
	}
	return &out, nil
}

func (p *ProviderClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.adminKey != "" {
		req.Header.Set(AdminKeyHeader, p.adminKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider %s returned status %d", url, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
