package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent represents a record stored in audit_events. The sink is
// fire-and-forget: a failed write never rolls back the business transaction.
type AuditEvent struct {
	EventID   string
	EventType string
	Entity    string
	EntityID  string
	ActorID   int64
	OldValue  map[string]any
	NewValue  map[string]any
	Meta      map[string]any
	At        time.Time
}

// AuditSink writes records into audit_events.
type AuditSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditSink returns a new AuditSink.
func NewAuditSink(pool *pgxpool.Pool, logger *slog.Logger) *AuditSink {
	return &AuditSink{pool: pool, logger: logger}
}

// Record persists the event. Errors are logged and swallowed.
func (s *AuditSink) Record(ctx context.Context, event AuditEvent) error {
	if s == nil {
		return errors.New("audit sink not initialised")
	}
	if event.EventType == "" || event.Entity == "" || event.EntityID == "" {
		return errors.New("audit event requires event_type/entity/entity_id")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	oldJSON, err := json.Marshal(event.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(event.NewValue)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_events (event_id, event_type, entity, entity_id, actor_id, old_value, new_value, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		event.EventID, event.EventType, event.Entity, event.EntityID, event.ActorID, oldJSON, newJSON, metaJSON, event.At)
	if err != nil && s.logger != nil {
		s.logger.Warn("audit event dropped",
			slog.String("event_type", event.EventType),
			slog.String("entity", event.Entity),
			slog.Any("error", err))
	}
	return err
}
