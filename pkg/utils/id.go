package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const roomIDLength = 8

// GenerateRoomID produces a short shareable room token.
func GenerateRoomID() string {
	b := make([]byte, roomIDLength)
	max := big.NewInt(int64(len(roomIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure means the process has bigger problems;
			// degrade to the first symbol rather than panic.
			b[i] = roomIDAlphabet[0]
			continue
		}
		b[i] = roomIDAlphabet[n.Int64()]
	}
	return string(b)
}

// GeneratePeerID produces the relay-assigned sender identifier.
func GeneratePeerID() string {
	return uuid.NewString()
}

// ValidRoomID reports whether the token has the expected shape.
func ValidRoomID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}
