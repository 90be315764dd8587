package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceAllocator hands out document numbers (orders, purchase orders,
// cycle counts) from a per-prefix counter row. The increment happens in a
// single statement so two concurrent callers can never observe the same
// value, unlike a scan-last-and-parse approach.
type SequenceAllocator struct {
	pool *pgxpool.Pool
}

// NewSequenceAllocator constructs the allocator.
func NewSequenceAllocator(pool *pgxpool.Pool) *SequenceAllocator {
	return &SequenceAllocator{pool: pool}
}

// Next returns the next number for prefix, formatted PREFIX-YYYYMMDD-NNNN.
// The counter resets per day because the period is part of the key.
func (s *SequenceAllocator) Next(ctx context.Context, prefix string) (string, error) {
	if s == nil {
		return "", errors.New("sequence allocator not initialised")
	}
	if prefix == "" {
		return "", errors.New("sequence prefix required")
	}
	period := time.Now().UTC().Format("20060102")
	var value int64
	err := s.pool.QueryRow(ctx, `INSERT INTO sequence_counters (prefix, period, value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, period) DO UPDATE SET value = sequence_counters.value + 1
RETURNING value`, prefix, period).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("sequence %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, period, value), nil
}
