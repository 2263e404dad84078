package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stitchline/stitchline/internal/jobs"
)

// TaskIdempotencyCleanup prunes expired request keys.
const TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

const defaultKeyRetention = 72 * time.Hour

// KeyCleaner drops idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob removes scan keys nobody can retry anymore.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// Handle executes the cleanup task.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()
	retention := j.Retention
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("idempotency keys pruned", slog.String("job", TaskIdempotencyCleanup), slog.Int64("removed", removed))
	return nil
}
