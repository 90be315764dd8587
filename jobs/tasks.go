package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/volta-ems/volta/internal/jobs"
	"github.com/volta-ems/volta/internal/mrp"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskShortageWarm recomputes the material shortage report and refreshes
	// its cache entry.
	TaskShortageWarm = "mrp:shortage_warm"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ShortageRecomputer runs the requirements engine across open demand.
type ShortageRecomputer interface {
	Shortages(ctx context.Context, statuses []string, refresh bool) (mrp.ShortageReport, error)
}

// IdempotencyCleaner removes processed keys older than the retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// ShortageWarmPayload carries scheduling metadata.
type ShortageWarmPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewShortageWarmTask constructs an Asynq task for the shortage warm-up.
func NewShortageWarmTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ShortageWarmPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskShortageWarm, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets the retention window for the cleanup run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewShortageWarmHandler builds the handler for TaskShortageWarm.
func NewShortageWarmHandler(logger *slog.Logger, engine ShortageRecomputer, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ShortageWarmPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("shortage_warm")
		_, err := engine.Shortages(ctx, nil, true)
		if err != nil {
			logger.Error("shortage warm failed", slog.Any("error", err))
		} else {
			logger.Info("shortage report refreshed",
				slog.Time("scheduled_for", payload.ScheduledFor))
		}
		return tracker.End(err)
	}
}

// NewIdempotencyCleanupHandler builds the handler for TaskIdempotencyCleanup.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store IdempotencyCleaner, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention := time.Duration(payload.RetentionHours) * time.Hour
		if retention <= 0 {
			retention = 168 * time.Hour
		}
		tracker := metrics.Track("idempotency_cleanup")
		err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
