package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

const (
	PersistentSweepJob = "persistent-sweep"
	MetricsCollectJob  = "metrics-collect"
)

// Sweeper drops expired entries from a cache tier.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func SweepJob(logger types.Logger, sweeper Sweeper) types.JobFunc {
	return func(ctx context.Context) error {
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Expired cache entries swept", zap.Int("removed", n))
		}
		return nil
	}
}

// Collector samples gauges on every tick.
type Collector interface {
	Collect()
}

func CollectJob(collector Collector) types.JobFunc {
	return func(context.Context) error {
		collector.Collect()
		return nil
	}
}
