package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken_roundTrip(t *testing.T) {
	svc := NewJWTService("secret", 12*time.Hour, 8*time.Hour)

	token, err := svc.SignSessionToken("+15550001111")
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, KindSession, claims.Kind)
	assert.Equal(t, "+15550001111", claims.Phone)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(12*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestAdminToken_roundTrip(t *testing.T) {
	svc := NewJWTService("secret", 12*time.Hour, 8*time.Hour)
	adminID := uuid.New()

	token, err := svc.SignAdminToken(adminID, "root")
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, claims.Kind)
	assert.Equal(t, adminID, claims.AdminID)
	assert.Equal(t, "root", claims.Username)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestVerifyToken_wrongSecret(t *testing.T) {
	signer := NewJWTService("secret-a", time.Hour, time.Hour)
	verifier := NewJWTService("secret-b", time.Hour, time.Hour)

	token, err := signer.SignSessionToken("+15550001111")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyToken_expired(t *testing.T) {
	svc := NewJWTService("secret", -time.Minute, time.Hour)

	token, err := svc.SignSessionToken("+15550001111")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyToken_garbage(t *testing.T) {
	svc := NewJWTService("secret", time.Hour, time.Hour)
	_, err := svc.VerifyToken("not.a.token")
	assert.Error(t, err)
}
