package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/repo"
)

// fixedCodes always issues the same code.
type fixedCodes struct{ code string }

func (f fixedCodes) Code() (string, error) { return f.code, nil }

// recordingSender captures dispatched messages; optionally fails.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
	done chan struct{}
}

func (s *recordingSender) Send(_ context.Context, phone, body string) error {
	s.mu.Lock()
	s.sent = append(s.sent, phone+": "+body)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	if s.fail {
		return errors.New("provider down")
	}
	return nil
}

type fixture struct {
	verifier   *Verifier
	challenges *repo.MemoryChallengeRepo
	lockouts   *repo.MemoryLockoutRepo
	users      *repo.MemoryUserRepo
	rooms      *repo.MemoryRoomRepo
	sender     *recordingSender
	now        time.Time
	clock      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		challenges: repo.NewMemoryChallengeRepo(),
		lockouts:   repo.NewMemoryLockoutRepo(),
		users:      repo.NewMemoryUserRepo(),
		rooms:      repo.NewMemoryRoomRepo(),
		sender:     &recordingSender{},
		now:        now,
	}
	clock := now
	f.clock = &clock

	jwtService := auth.NewJWTService("test-secret-at-least-32-characters!!", 12*time.Hour, 8*time.Hour)
	f.verifier = NewVerifier(f.challenges, f.lockouts, f.users, f.rooms, jwtService, f.sender, "test-salt", Options{
		Now:   func() time.Time { return *f.clock },
		Codes: fixedCodes{code: "123456"},
	})
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestRequestCode_rejectsUnknownPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)

	count, err := f.challenges.CountIssuedSince(ctx, "+15550001", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count, "no challenge should be issued for an unauthorized phone")
}

func TestRequestCode_allowsKnownUser(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)

	ttl, err := f.verifier.RequestCode(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestRequestCode_allowsRoomWhitelistedPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rooms.CreateRoom(ctx, "room-1", 10, nil))
	_, err := f.rooms.AddWhitelist(ctx, "room-1", "+15550002", "admin")
	require.NoError(t, err)

	_, err = f.verifier.RequestCode(ctx, "+15550002")
	require.NoError(t, err)
}

func TestRequestCode_rateLimitWindow(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.verifier.RequestCode(ctx, "+15550001")
		require.NoError(t, err, "request %d within the limit", i+1)
	}

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.ErrorIs(t, err, apperr.ErrRateLimited)

	// Once the window rolls over, requests succeed again.
	f.advance(61 * time.Minute)
	_, err = f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)
}

func TestRequestCode_dispatchFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	f.sender.fail = true
	f.sender.done = make(chan struct{})
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err, "delivery failure must not fail the request")

	select {
	case <-f.sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("SMS dispatch never attempted")
	}

	// The challenge stays valid: verification with the code still works.
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err)
}

func TestVerifyCode_noChallenge(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.VerifyCode(context.Background(), "+15550001", "123456", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrNoChallenge)
}

func TestVerifyCode_expired(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrExpired, "a correct code past its TTL is expired")
}

func TestVerifyCode_successIssuesCredential(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", false)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	token, err := f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	user, err := f.users.GetByPhone(ctx, "+15550001")
	require.NoError(t, err)
	assert.True(t, user.Verified)

	// Credential is recorded against the consumed challenge for audit.
	ch, err := f.challenges.Newest(ctx, "+15550001")
	require.NoError(t, err)
	require.NotNil(t, ch.Credential)
	assert.Equal(t, token, *ch.Credential)
}

func TestVerifyCode_createsUserWhenAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rooms.CreateRoom(ctx, "room-1", 10, nil))
	_, err := f.rooms.AddWhitelist(ctx, "room-1", "+15550009", "admin")
	require.NoError(t, err)

	_, err = f.verifier.RequestCode(ctx, "+15550009")
	require.NoError(t, err)

	_, err = f.verifier.VerifyCode(ctx, "+15550009", "123456", "10.0.0.1")
	require.NoError(t, err)

	user, err := f.users.GetByPhone(ctx, "+15550009")
	require.NoError(t, err)
	assert.True(t, user.Verified)
}

func TestVerifyCode_lockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.verifier.VerifyCode(ctx, "+15550001", "000000", "10.0.0.1")
		require.ErrorIs(t, err, apperr.ErrInvalidCode, "failure %d", i+1)
	}

	// Sixth attempt fails LockedOut even with the correct code.
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrLockedOut)

	// After the lockout window elapses the correct code works.
	f.advance(16 * time.Minute)
	_, err = f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err)
}

func TestVerifyCode_successResetsCounter(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := f.verifier.VerifyCode(ctx, "+15550001", "000000", "10.0.0.1")
		require.ErrorIs(t, err, apperr.ErrInvalidCode)
	}

	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err, "success below the threshold must not lock")

	// The counter restarted from zero: four more failures stay InvalidCode.
	for i := 0; i < 4; i++ {
		_, err := f.verifier.VerifyCode(ctx, "+15550001", "000000", "10.0.0.1")
		require.ErrorIs(t, err, apperr.ErrInvalidCode)
	}
}

func TestVerifyCode_lockoutsByPhoneAndOriginAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	f.users.Add("+15550002", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)
	_, err = f.verifier.RequestCode(ctx, "+15550002")
	require.NoError(t, err)

	// Lock out the origin by failing from it repeatedly with one phone.
	for i := 0; i < 5; i++ {
		_, err := f.verifier.VerifyCode(ctx, "+15550001", "000000", "10.0.0.1")
		require.ErrorIs(t, err, apperr.ErrInvalidCode)
	}

	// A different phone from the locked origin is blocked.
	_, err = f.verifier.VerifyCode(ctx, "+15550002", "123456", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrLockedOut)

	// The locked phone is blocked from a fresh origin too.
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.99")
	require.ErrorIs(t, err, apperr.ErrLockedOut)

	// The clean phone from a clean origin goes through.
	_, err = f.verifier.VerifyCode(ctx, "+15550002", "123456", "10.0.0.2")
	require.NoError(t, err)
}

func TestVerifyCode_lockoutCheckedBeforeChallengeLookup(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _ = f.verifier.VerifyCode(ctx, "+15550001", "000000", "10.0.0.1")
	}

	// A phone with no challenge at all gets LockedOut from the locked
	// origin, not NoChallenge: nothing leaks about pending challenges.
	f.users.Add("+15550003", true)
	_, err = f.verifier.VerifyCode(ctx, "+15550003", "123456", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrLockedOut)
}

func TestVerifyCode_newestChallengeWins(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	jwtService := auth.NewJWTService("test-secret-at-least-32-characters!!", 12*time.Hour, 8*time.Hour)
	codes := &sequenceCodes{codes: []string{"111111", "222222"}}
	v := NewVerifier(f.challenges, f.lockouts, f.users, f.rooms, jwtService, f.sender, "test-salt", Options{
		Now:   func() time.Time { return *f.clock },
		Codes: codes,
	})

	_, err := v.RequestCode(ctx, "+15550001")
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = v.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	// The older code no longer verifies; the newest does.
	_, err = v.VerifyCode(ctx, "+15550001", "111111", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrInvalidCode)
	_, err = v.VerifyCode(ctx, "+15550001", "222222", "10.0.0.1")
	require.NoError(t, err)
}

func TestVerifyCode_replayWithinTTLSucceeds(t *testing.T) {
	f := newFixture(t)
	f.users.Add("+15550001", true)
	ctx := context.Background()

	_, err := f.verifier.RequestCode(ctx, "+15550001")
	require.NoError(t, err)

	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err)

	// The challenge is not consumed on success; a replay inside the TTL
	// verifies again.
	_, err = f.verifier.VerifyCode(ctx, "+15550001", "123456", "10.0.0.1")
	require.NoError(t, err)
}

type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	idx   int
}

func (s *sequenceCodes) Code() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.codes[s.idx%len(s.codes)]
	s.idx++
	return code, nil
}
