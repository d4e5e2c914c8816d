package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tfchat/server/internal/model"
)

// LockoutRepo is the failed-attempt ledger, keyed by subject (a phone number
// or a network origin address). Implementations must make RecordFailure's
// increment-then-threshold-check atomic per subject.
type LockoutRepo interface {
	// Get returns the record for a subject; found is false when the subject
	// has never failed an attempt.
	Get(ctx context.Context, subject string) (rec model.LockoutRecord, found bool, err error)
	// RecordFailure increments the subject's counter and, if the new count
	// reaches threshold, sets locked_until = now + lockFor. Returns the
	// updated record.
	RecordFailure(ctx context.Context, subject string, now time.Time, threshold int, lockFor time.Duration) (model.LockoutRecord, error)
	// Reset zeroes the counter and clears any lockout for the subject.
	Reset(ctx context.Context, subject string, now time.Time) error
}

type lockoutRepo struct {
	db *sql.DB
}

// NewLockoutRepo creates a new LockoutRepo instance.
func NewLockoutRepo(db *sql.DB) LockoutRepo {
	return &lockoutRepo{db: db}
}

func (r *lockoutRepo) Get(ctx context.Context, subject string) (model.LockoutRecord, bool, error) {
	query := `
		SELECT subject, failed_count, last_attempt_at, locked_until
		FROM otp_attempts
		WHERE subject = $1
	`
	var rec model.LockoutRecord
	err := r.db.QueryRowContext(ctx, query, subject).Scan(
		&rec.Subject,
		&rec.FailedCount,
		&rec.LastAttemptAt,
		&rec.LockedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LockoutRecord{}, false, nil
		}
		return model.LockoutRecord{}, false, fmt.Errorf("query lockout record: %w", err)
	}
	return rec, true, nil
}

// RecordFailure upserts in a single statement so concurrent failures for the
// same subject serialize on the row and the threshold check cannot race.
func (r *lockoutRepo) RecordFailure(ctx context.Context, subject string, now time.Time, threshold int, lockFor time.Duration) (model.LockoutRecord, error) {
	query := `
		INSERT INTO otp_attempts (subject, failed_count, last_attempt_at, locked_until)
		VALUES ($1, 1, $2, CASE WHEN 1 >= $3 THEN $2::timestamptz + $4::interval ELSE NULL END)
		ON CONFLICT (subject) DO UPDATE SET
			failed_count    = otp_attempts.failed_count + 1,
			last_attempt_at = $2,
			locked_until    = CASE
				WHEN otp_attempts.failed_count + 1 >= $3 THEN $2::timestamptz + $4::interval
				ELSE otp_attempts.locked_until
			END
		RETURNING subject, failed_count, last_attempt_at, locked_until
	`
	interval := fmt.Sprintf("%d seconds", int(lockFor.Seconds()))
	var rec model.LockoutRecord
	err := r.db.QueryRowContext(ctx, query, subject, now, threshold, interval).Scan(
		&rec.Subject,
		&rec.FailedCount,
		&rec.LastAttemptAt,
		&rec.LockedUntil,
	)
	if err != nil {
		return model.LockoutRecord{}, fmt.Errorf("record failed attempt: %w", err)
	}
	return rec, nil
}

func (r *lockoutRepo) Reset(ctx context.Context, subject string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_attempts (subject, failed_count, last_attempt_at, locked_until)
		VALUES ($1, 0, $2, NULL)
		ON CONFLICT (subject) DO UPDATE SET
			failed_count = 0, last_attempt_at = $2, locked_until = NULL
	`, subject, now)
	if err != nil {
		return fmt.Errorf("reset lockout record: %w", err)
	}
	return nil
}
