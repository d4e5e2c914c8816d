package verify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// hashCodeHex returns SHA-256(phone:code:salt) as hex for storage.
func hashCodeHex(phone, code, salt string) string {
	return hex.EncodeToString(hashCodeBytes(phone, code, salt))
}

func hashCodeBytes(phone, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", phone, code, salt)
	sum := sha256.Sum256([]byte(data))
	return sum[:]
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
