package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/model"
)

// ErrNoActiveChallenge is returned when a phone has no issued challenge.
var ErrNoActiveChallenge = errors.New("no challenge for phone")

// ChallengeRepo stores issued verification codes. Challenges are append-only;
// verification always consults the newest row for a phone.
type ChallengeRepo interface {
	Create(ctx context.Context, phone, codeHashHex string, issuedAt, expiresAt time.Time) (uuid.UUID, error)
	// Newest returns the most recently issued challenge for the phone,
	// expired or not. Absence is ErrNoActiveChallenge.
	Newest(ctx context.Context, phone string) (model.OtpChallenge, error)
	// CountIssuedSince counts challenges issued for the phone since the
	// given time, for the sliding-window request limit.
	CountIssuedSince(ctx context.Context, phone string, since time.Time) (int, error)
	// RecordCredential notes the session token issued against a consumed
	// challenge, for audit.
	RecordCredential(ctx context.Context, id uuid.UUID, credential string) error
}

type challengeRepo struct {
	db *sql.DB
}

// NewChallengeRepo creates a new ChallengeRepo instance.
func NewChallengeRepo(db *sql.DB) ChallengeRepo {
	return &challengeRepo{db: db}
}

func (r *challengeRepo) Create(ctx context.Context, phone, codeHashHex string, issuedAt, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (phone, code_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, phone, codeHashHex, issuedAt, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse challenge ID: %w", err)
	}
	return id, nil
}

func (r *challengeRepo) Newest(ctx context.Context, phone string) (model.OtpChallenge, error) {
	query := `
		SELECT id, phone, code_hash, issued_at, expires_at, credential
		FROM otp_challenges
		WHERE phone = $1
		ORDER BY issued_at DESC
		LIMIT 1
	`
	var ch model.OtpChallenge
	var idStr, hashHex string
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&idStr,
		&ch.Phone,
		&hashHex,
		&ch.IssuedAt,
		&ch.ExpiresAt,
		&ch.Credential,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpChallenge{}, ErrNoActiveChallenge
		}
		return model.OtpChallenge{}, fmt.Errorf("query challenge: %w", err)
	}
	ch.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	ch.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return ch, nil
}

func (r *challengeRepo) CountIssuedSince(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_challenges
		WHERE phone = $1 AND issued_at >= $2
	`, phone, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent challenges: %w", err)
	}
	return count, nil
}

func (r *challengeRepo) RecordCredential(ctx context.Context, id uuid.UUID, credential string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET credential = $1 WHERE id = $2
	`, credential, id)
	if err != nil {
		return fmt.Errorf("record credential: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("challenge not found")
	}
	return nil
}
