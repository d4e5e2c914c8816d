package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/model"
)

// ErrUserMissing is returned when a phone has no user row.
var ErrUserMissing = errors.New("user not found")

// UserRepo defines user storage operations.
type UserRepo interface {
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	// Exists reports whether the phone is a known user, without error on absence.
	Exists(ctx context.Context, phone string) (bool, error)
	// MarkVerified upserts the user and sets verified = true.
	MarkVerified(ctx context.Context, phone string) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `
		SELECT id, phone, verified, created_at
		FROM users
		WHERE phone = $1
	`
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&idStr,
		&user.Phone,
		&user.Verified,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserMissing
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return user, nil
}

func (r *userRepo) Exists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1)`, phone,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (r *userRepo) MarkVerified(ctx context.Context, phone string) (model.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (phone, verified)
		VALUES ($1, TRUE)
		ON CONFLICT (phone) DO UPDATE SET verified = TRUE
	`, phone)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert verified user: %w", err)
	}
	return r.GetByPhone(ctx, phone)
}
