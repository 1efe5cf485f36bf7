package firestore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	pfirestore "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/firestore"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// UserRepository stores users under users/{id} with userEmails/{email} as the uniqueness guard.
type UserRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.Collection[domain.User]
	emails   *pfirestore.Collection[guardDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository binds the user collections to provider.
func NewUserRepository(provider *pfirestore.Provider) *UserRepository {
	return &UserRepository{
		provider: provider,
		users:    pfirestore.NewCollection(provider, usersCollection, decodeUser),
		emails:   pfirestore.NewCollection[guardDocument](provider, userEmailsCollection, nil),
	}
}

func decodeUser(snap *firestore.DocumentSnapshot) (domain.User, error) {
	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.User{}, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
	}
	return domain.User{
		ID:             snap.Ref.ID,
		Email:          doc.Email,
		DisplayName:    doc.DisplayName,
		Guest:          doc.Guest,
		CredentialHash: doc.CredentialHash,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	const op = "users.find_by_email"
	guard, err := r.emails.Get(ctx, normaliseEmail(email))
	if err != nil {
		return domain.User{}, mapError(op, err)
	}
	user, err := r.users.Get(ctx, guard.OwnerID)
	if err != nil {
		return domain.User{}, mapError(op, err)
	}
	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	const op = "users.create"
	email := normaliseEmail(user.Email)
	userRef, err := r.users.Doc(ctx, user.ID)
	if err != nil {
		return err
	}
	emailRef, err := r.emails.Doc(ctx, email)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if taken, err := docExists(tx, emailRef); err != nil {
			return err
		} else if taken {
			return repositories.NewError(repositories.CodeUserExists, op, nil)
		}
		if err := tx.Create(emailRef, guardDocument{OwnerID: user.ID, CreatedAt: user.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(userRef, userDocument{
			Email:          email,
			DisplayName:    user.DisplayName,
			Guest:          user.Guest,
			CredentialHash: user.CredentialHash,
			CreatedAt:      user.CreatedAt.UTC(),
		})
	})
	if pfirestore.IsAlreadyExists(err) {
		return repositories.NewError(repositories.CodeUserExists, op, err)
	}
	return mapError(op, err)
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
