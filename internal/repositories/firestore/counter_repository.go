package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/firestore"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

type counterDocument struct {
	Scope        string    `firestore:"scope"`
	Name         string    `firestore:"name"`
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps sequences in counters/{scope}:{name}, incremented transactionally.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository binds the counters collection to provider.
func NewCounterRepository(provider *pfirestore.Provider) *CounterRepository {
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection, nil),
	}
}

// Next increments the counter by step (1 when step <= 0) and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, scope, name string, step int64) (int64, error) {
	const op = "counters.next"
	scope, name = strings.TrimSpace(scope), strings.TrimSpace(name)
	if scope == "" || name == "" {
		return 0, fmt.Errorf("%s: scope and name are required", op)
	}
	if step <= 0 {
		step = 1
	}
	ref, err := r.counters.Doc(ctx, scope+":"+name)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.counters.GetTx(tx, ref)
		switch {
		case pfirestore.IsNotFound(err):
			doc = counterDocument{Scope: scope, Name: name}
		case err != nil:
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = time.Now().UTC()
		next = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, mapError(op, err)
	}
	return next, nil
}
