package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// UserRepository stores users keyed by a unique lower-cased email.
type UserRepository struct {
	db *sql.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	const op = "users.find_by_email"
	var (
		user      domain.User
		guest     int
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, guest, credential_hash, created_at FROM users WHERE email = ?`,
		normaliseEmail(email),
	).Scan(&user.ID, &user.Email, &user.DisplayName, &guest, &user.CredentialHash, &createdAt)
	if err != nil {
		return domain.User{}, wrapError(op, err)
	}
	user.Guest = guest == 1
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	const op = "users.create"
	guest := 0
	if user.Guest {
		guest = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, guest, credential_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, normaliseEmail(user.Email), user.DisplayName, guest, user.CredentialHash, formatTime(user.CreatedAt))
	if uniqueViolation(err, "users.email") {
		return repositories.NewError(repositories.CodeUserExists, op, err)
	}
	return wrapError(op, err)
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
