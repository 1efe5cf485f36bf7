package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// CounterRepository hands out sequence values with a single upsert per call.
type CounterRepository struct {
	db *sql.DB
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// Next increments the counter scope/name by step (1 when step <= 0) and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, scope, name string, step int64) (int64, error) {
	scope, name = strings.TrimSpace(scope), strings.TrimSpace(name)
	if scope == "" || name == "" {
		return 0, fmt.Errorf("sqlite: counters.next: scope and name are required")
	}
	if step <= 0 {
		step = 1
	}

	var value int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO counters (scope, name, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, name) DO UPDATE SET
			value = counters.value + excluded.value, updated_at = excluded.updated_at
		RETURNING value`,
		scope, name, step, formatTime(time.Now()),
	).Scan(&value)
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}
