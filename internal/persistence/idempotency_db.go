package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the tier-2 dedup lookup behind the in-memory
// LRU: a key that aged out of the LRU is still a duplicate if the operation
// log holds it.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks whether the operation log already holds the key. The
// lookup is bounded tightly; the core treats an error as "not a duplicate"
// rather than stalling.
func (pic *PostgresIdempotencyChecker) IsDuplicate(kind string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM operation_log.operations
		WHERE kind = $1 AND idempotency_key = $2
		LIMIT 1
	`, kind, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
