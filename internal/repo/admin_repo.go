package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/model"
)

// ErrAdminMissing is returned when a username has no admin row.
var ErrAdminMissing = errors.New("admin not found")

// AdminRepo stores administrator accounts and their action audit log.
type AdminRepo interface {
	GetByUsername(ctx context.Context, username string) (model.Admin, error)
	// EnsureSeed inserts an admin if the username is absent. Used for the
	// bootstrap account at startup.
	EnsureSeed(ctx context.Context, username string, passwordHash []byte) error
	Log(ctx context.Context, adminID uuid.UUID, action string, target, metadata *string) error
	ListLogs(ctx context.Context, limit int) ([]model.AdminLog, error)
}

type adminRepo struct {
	db *sql.DB
}

// NewAdminRepo creates a new AdminRepo instance.
func NewAdminRepo(db *sql.DB) AdminRepo {
	return &adminRepo{db: db}
}

func (r *adminRepo) GetByUsername(ctx context.Context, username string) (model.Admin, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM admins
		WHERE username = $1
	`
	var admin model.Admin
	var idStr, hash string
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&idStr,
		&admin.Username,
		&hash,
		&admin.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Admin{}, ErrAdminMissing
		}
		return model.Admin{}, fmt.Errorf("query admin: %w", err)
	}
	admin.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Admin{}, fmt.Errorf("parse admin ID: %w", err)
	}
	admin.PasswordHash = []byte(hash)
	return admin, nil
}

func (r *adminRepo) EnsureSeed(ctx context.Context, username string, passwordHash []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING
	`, username, string(passwordHash))
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func (r *adminRepo) Log(ctx context.Context, adminID uuid.UUID, action string, target, metadata *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_logs (admin_id, action, target, metadata)
		VALUES ($1, $2, $3, $4)
	`, adminID.String(), action, target, metadata)
	if err != nil {
		return fmt.Errorf("insert admin log: %w", err)
	}
	return nil
}

func (r *adminRepo) ListLogs(ctx context.Context, limit int) ([]model.AdminLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, action, target, metadata, ts
		FROM admin_logs
		ORDER BY ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list admin logs: %w", err)
	}
	defer rows.Close()

	var logs []model.AdminLog
	for rows.Next() {
		var l model.AdminLog
		var idStr string
		if err := rows.Scan(&l.ID, &idStr, &l.Action, &l.Target, &l.Metadata, &l.At); err != nil {
			return nil, fmt.Errorf("scan admin log: %w", err)
		}
		l.AdminID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse admin ID: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
