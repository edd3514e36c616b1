package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultDedupTimeout = 500 * time.Millisecond

// PostgresIdempotencyChecker is the second dedup tier behind the core's
// LRU. It probes events_idempotency_idx with a short deadline so a slow
// database never stalls the core for long.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: defaultDedupTimeout}
}

// WithTimeout overrides the per-lookup deadline.
func (pic *PostgresIdempotencyChecker) WithTimeout(d time.Duration) *PostgresIdempotencyChecker {
	pic.timeout = d
	return pic
}

func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists bool
	err := pic.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM event_log.events
			WHERE event_type = $1 AND idempotency_key = $2
		)
	`, eventType, idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s/%s: %w", eventType, idempotencyKey, err)
	}
	return exists, nil
}
