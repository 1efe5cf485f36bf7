// Package firestore implements the persistence contracts on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/firestore"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const (
	ordersCollection        = "orders"
	orderNumbersCollection  = "orderNumbers"
	intentsCollection       = "paymentIntents"
	appliedEventsCollection = "appliedEvents"
	notificationsCollection = "notifications"
	usersCollection         = "users"
	userEmailsCollection    = "userEmails"
	countersCollection      = "counters"
)

// Store bundles the Firestore repositories around one provider.
type Store struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	users    *UserRepository
	counters *CounterRepository
}

var _ repositories.Store = (*Store)(nil)

// NewStore wires every repository to provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider: provider,
		orders:   NewOrderRepository(provider),
		users:    NewUserRepository(provider),
		counters: NewCounterRepository(provider),
	}, nil
}

func (s *Store) Orders() repositories.OrderRepository           { return s.orders }
func (s *Store) Users() repositories.UserRepository             { return s.users }
func (s *Store) Counters() repositories.CounterRepository       { return s.counters }
func (s *Store) Notifications() repositories.NotificationOutbox { return s.orders }

func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.provider.Ping(ctx))
}

func (s *Store) Close() error {
	return s.provider.Close()
}

// mapError converts Firestore failures into repository errors. Typed repository errors raised
// inside transactions pass through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	wrapped := pfirestore.WrapError(op, err)
	var fsErr *pfirestore.Error
	if errors.As(wrapped, &fsErr) {
		switch {
		case fsErr.IsNotFound():
			return repositories.NewError(repositories.CodeNotFound, op, wrapped)
		case fsErr.IsUnavailable():
			return repositories.NewError(repositories.CodeUnavailable, op, wrapped)
		}
	}
	return wrapped
}
