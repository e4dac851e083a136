package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a scheduled task. ctx ends on scheduler shutdown or when the
// job exceeds its timeout.
type JobFunc func(ctx context.Context) error

type JobEntry struct {
	ID            cron.EntryID  `json:"-"`
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	AddedAt       time.Time     `json:"added_at"`
	LastRun       time.Time     `json:"last_run"`
	NextRun       time.Time     `json:"next_run"`
	LastDuration  time.Duration `json:"last_duration"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	RunCount      int64         `json:"run_count"`
	LastError     string        `json:"last_error,omitempty"`
}
