// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Job names.
const (
	RoomRetentionJobName  = "room-retention"
	StatsRetentionJobName = "api-stats-retention"
)

// IdleRoomDeleter removes rooms that have not been written since cutoff.
type IdleRoomDeleter interface {
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RoomRetentionJob creates a job that deletes rooms idle for longer than
// retention.
func RoomRetentionJob(rooms IdleRoomDeleter, retention time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     RoomRetentionJobName,
		Interval: sweepInterval(retention),
		Run: func(ctx context.Context) error {
			ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), logger, RoomRetentionJobName)
			defer cancel()

			cutoff := time.Now().Add(-retention)
			deleted, err := rooms.DeleteIdleBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("deleted idle rooms",
					zap.Int64("deleted", deleted),
					zap.Duration("retention", retention))
			}
			return nil
		},
	}
}

// StatsDeleter removes statistics buckets older than cutoff.
type StatsDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsRetentionJob creates a job that drops API statistics buckets older
// than retention.
func StatsRetentionJob(stats StatsDeleter, retention time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     StatsRetentionJobName,
		Interval: sweepInterval(retention),
		Run: func(ctx context.Context) error {
			ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), logger, StatsRetentionJobName)
			defer cancel()

			deleted, err := stats.DeleteOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("deleted old API stats buckets",
					zap.Int64("deleted", deleted),
					zap.Duration("retention", retention))
			}
			return nil
		},
	}
}

// sweepInterval runs a retention sweep at a tenth of the window, clamped to
// between one minute and six hours.
func sweepInterval(retention time.Duration) time.Duration {
	interval := retention / 10
	switch {
	case interval < time.Minute:
		return time.Minute
	case interval > 6*time.Hour:
		return 6 * time.Hour
	}
	return interval
}
