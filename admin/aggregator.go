package admin

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/frogbytes/frogbytes/errors"
	"github.com/frogbytes/frogbytes/internal/metrics"
)

// SystemStatus is the merged admin dashboard response.
type SystemStatus struct {
	KeyPool     *KeyPoolStats       `json:"key_pool"`
	Tokens      *TokenStats         `json:"tokens"`
	History     *ExecutionHistory   `json:"history"`
	System      *SystemStatusReport `json:"system"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// StatusAggregator fans out to the four status providers concurrently
// and merges the results. Any single provider failure fails the whole
// aggregation; no partial results are returned.
type StatusAggregator struct {
	providers *ProviderClient
}

// NewStatusAggregator creates a StatusAggregator.
func NewStatusAggregator(providers *ProviderClient) *StatusAggregator {
	return &StatusAggregator{providers: providers}
}

// Aggregate queries all providers in parallel under the request context.
// The first failure cancels the remaining fetches.
func (a *StatusAggregator) Aggregate(ctx context.Context) (*SystemStatus, error) {
	g, ctx := errgroup.WithContext(ctx)

	status := &SystemStatus{}

	g.Go(func() error {
		stats, err := a.providers.KeyPoolStats(ctx)
		if err != nil {
			return err
		}
		status.KeyPool = stats
		return nil
	})
	g.Go(func() error {
		stats, err := a.providers.TokenStats(ctx)
		if err != nil {
			return err
		}
		status.Tokens = stats
		return nil
	})
	g.Go(func() error {
		history, err := a.providers.ExecutionHistory(ctx)
		if err != nil {
			return err
		}
		status.History = history
		return nil
	})
	g.Go(func() error {
		report, err := a.providers.SystemStatus(ctx)
		if err != nil {
			return err
		}
		status.System = report
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.IncAggregationFailure()
		return nil, apperrors.NewUpstreamAPI("status provider fetch failed", err)
	}

	status.GeneratedAt = time.Now().UTC()

	return status, nil
}
