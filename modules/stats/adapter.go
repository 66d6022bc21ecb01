package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// GetStatsRequest is the (empty) request of the get-stats service.
type GetStatsRequest struct{}

// StatsPort defines the interface for reading stats from other modules.
type StatsPort interface {
	GetStats(ctx context.Context) (*Snapshot, error)
}

type statsAdapter struct {
	container mono.ServiceContainer
}

// NewStatsAdapter creates a new adapter for the stats service.
func NewStatsAdapter(container mono.ServiceContainer) StatsPort {
	return &statsAdapter{container: container}
}

// GetStats retrieves the current counters.
func (a *statsAdapter) GetStats(ctx context.Context) (*Snapshot, error) {
	var resp Snapshot
	err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceGetStats,
		json.Marshal,
		json.Unmarshal,
		&GetStatsRequest{},
		&resp,
	)
	if err != nil {
		return nil, fmt.Errorf("%s service call failed: %w", ServiceGetStats, err)
	}
	return &resp, nil
}
