package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries either a phone-bound session credential or an admin token.
// Kind distinguishes the two; a chat credential never carries a room claim.
type Claims struct {
	Kind     string    `json:"kind"`
	Phone    string    `json:"phone,omitempty"`
	AdminID  uuid.UUID `json:"admin_id,omitempty"`
	Username string    `json:"username,omitempty"`
	jwt.RegisteredClaims
}

const (
	KindSession = "session"
	KindAdmin   = "admin"
)

// JWTService signs and verifies HS256 tokens.
type JWTService struct {
	secret     []byte
	sessionTTL time.Duration
	adminTTL   time.Duration
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret string, sessionTTL, adminTTL time.Duration) *JWTService {
	return &JWTService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		adminTTL:   adminTTL,
	}
}

// SignSessionToken creates the phone-bound credential issued after a
// successful code verification.
func (s *JWTService) SignSessionToken(phone string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Kind:  KindSession,
		Phone: phone,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// SignAdminToken creates a bearer token for the administrative HTTP surface.
func (s *JWTService) SignAdminToken(adminID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Kind:     KindAdmin,
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.adminTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies and parses a token of either kind.
func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
