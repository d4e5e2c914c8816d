// Package verify owns code issuance, verification, and the per-subject
// lockout ledger.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/repo"
	"github.com/tfchat/server/internal/sms"
)

// Options tunes the verifier. Zero values fall back to defaults.
type Options struct {
	CodeTTL          time.Duration // default 5 minutes
	RequestLimit     int           // code requests per phone per window, default 5
	RequestWindow    time.Duration // default 1 hour
	LockoutThreshold int           // failed attempts before lockout, default 5
	LockoutDuration  time.Duration // default 15 minutes
	Now              func() time.Time
	Codes            CodeSource
}

func (o Options) withDefaults() Options {
	out := o
	if out.CodeTTL <= 0 {
		out.CodeTTL = 5 * time.Minute
	}
	if out.RequestLimit <= 0 {
		out.RequestLimit = 5
	}
	if out.RequestWindow <= 0 {
		out.RequestWindow = time.Hour
	}
	if out.LockoutThreshold <= 0 {
		out.LockoutThreshold = 5
	}
	if out.LockoutDuration <= 0 {
		out.LockoutDuration = 15 * time.Minute
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Codes == nil {
		out.Codes = CryptoCodeSource{}
	}
	return out
}

// Verifier issues and validates one-time codes.
type Verifier struct {
	challenges repo.ChallengeRepo
	lockouts   repo.LockoutRepo
	users      repo.UserRepo
	rooms      repo.RoomRepo
	jwtService *auth.JWTService
	sender     sms.Sender
	salt       string
	opts       Options
}

// NewVerifier creates a Verifier over the given stores and collaborators.
func NewVerifier(
	challenges repo.ChallengeRepo,
	lockouts repo.LockoutRepo,
	users repo.UserRepo,
	rooms repo.RoomRepo,
	jwtService *auth.JWTService,
	sender sms.Sender,
	salt string,
	opts Options,
) *Verifier {
	return &Verifier{
		challenges: challenges,
		lockouts:   lockouts,
		users:      users,
		rooms:      rooms,
		jwtService: jwtService,
		sender:     sender,
		salt:       salt,
		opts:       opts.withDefaults(),
	}
}

// RequestCode issues a new challenge for the phone and dispatches the code
// by SMS. Returns the challenge TTL. The phone must already be a known user
// or appear on some room's whitelist; issuance is also limited per phone
// within a sliding window.
//
// Dispatch is fire-and-forget: a delivery failure is logged and the
// challenge stays valid, so the code can be re-delivered out of band.
func (v *Verifier) RequestCode(ctx context.Context, phone string) (time.Duration, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0, apperr.ErrInvalidArgument
	}

	known, err := v.users.Exists(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("check user: %w", err)
	}
	if !known {
		listed, err := v.rooms.PhoneWhitelistedAnywhere(ctx, phone)
		if err != nil {
			return 0, fmt.Errorf("check whitelist: %w", err)
		}
		if !listed {
			return 0, apperr.ErrNotAuthorized
		}
	}

	now := v.opts.Now()
	count, err := v.challenges.CountIssuedSince(ctx, phone, now.Add(-v.opts.RequestWindow))
	if err != nil {
		return 0, fmt.Errorf("rate limit check: %w", err)
	}
	if count >= v.opts.RequestLimit {
		return 0, apperr.ErrRateLimited
	}

	code, err := v.opts.Codes.Code()
	if err != nil {
		return 0, err
	}

	expiresAt := now.Add(v.opts.CodeTTL)
	if _, err := v.challenges.Create(ctx, phone, hashCodeHex(phone, code, v.salt), now, expiresAt); err != nil {
		return 0, fmt.Errorf("create challenge: %w", err)
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := v.sender.Send(sendCtx, phone, "Your verification code is "+code); err != nil {
			log.Printf("SMS dispatch failed for %s: %v", maskPhone(phone), err)
		}
	}()

	return v.opts.CodeTTL, nil
}

// VerifyCode checks the supplied code against the phone's newest challenge.
// Lockout windows for the phone and the origin address are checked first,
// before any challenge lookup, so a locked-out caller learns nothing about
// pending challenges. A mismatch counts against both subjects
// independently; success resets both, marks the user verified, and returns
// a phone-bound session credential.
func (v *Verifier) VerifyCode(ctx context.Context, phone, code, originAddress string) (string, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return "", apperr.ErrInvalidArgument
	}

	now := v.opts.Now()
	for _, subject := range []string{phone, originAddress} {
		if subject == "" {
			continue
		}
		rec, found, err := v.lockouts.Get(ctx, subject)
		if err != nil {
			return "", fmt.Errorf("lockout check: %w", err)
		}
		if found && rec.Locked(now) {
			return "", apperr.ErrLockedOut
		}
	}

	ch, err := v.challenges.Newest(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNoActiveChallenge) {
			return "", apperr.ErrNoChallenge
		}
		return "", fmt.Errorf("challenge lookup: %w", err)
	}
	if !now.Before(ch.ExpiresAt) {
		return "", apperr.ErrExpired
	}

	if !constantTimeEqual(hashCodeBytes(phone, code, v.salt), ch.CodeHash) {
		if err := v.recordFailure(ctx, phone, now); err != nil {
			return "", err
		}
		if originAddress != "" {
			if err := v.recordFailure(ctx, originAddress, now); err != nil {
				return "", err
			}
		}
		return "", apperr.ErrInvalidCode
	}

	if err := v.lockouts.Reset(ctx, phone, now); err != nil {
		return "", fmt.Errorf("reset lockout: %w", err)
	}
	if originAddress != "" {
		if err := v.lockouts.Reset(ctx, originAddress, now); err != nil {
			return "", fmt.Errorf("reset lockout: %w", err)
		}
	}

	if _, err := v.users.MarkVerified(ctx, phone); err != nil {
		return "", fmt.Errorf("mark user verified: %w", err)
	}

	token, err := v.jwtService.SignSessionToken(phone)
	if err != nil {
		return "", fmt.Errorf("issue credential: %w", err)
	}
	if err := v.challenges.RecordCredential(ctx, ch.ID, token); err != nil {
		// Audit trail only; the credential is already issued.
		log.Printf("record credential for %s: %v", maskPhone(phone), err)
	}
	return token, nil
}

func (v *Verifier) recordFailure(ctx context.Context, subject string, now time.Time) error {
	_, err := v.lockouts.RecordFailure(ctx, subject, now, v.opts.LockoutThreshold, v.opts.LockoutDuration)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// maskPhone keeps the first two and last two characters for logging.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
