package verify

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeSource produces verification codes. Injected so tests can pin codes.
type CodeSource interface {
	Code() (string, error)
}

// CryptoCodeSource draws a uniform 6-digit code from crypto/rand.
type CryptoCodeSource struct{}

func (CryptoCodeSource) Code() (string, error) {
	// Uniform over [100000, 999999]; no modulo bias from rand.Int.
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
