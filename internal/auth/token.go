package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/fortresslabs/identity/internal/ids"
)

const tokenSecretBytes = 32

// dummySecretHash keeps the unknown-token path doing the same amount of
// comparison work as the known-token path.
var dummySecretHash = hashTokenSecret("-")

// mintToken returns the wire form "<id>.<secret>" together with the
// record to persist. The secret itself is never stored.
func mintToken(userID string, now time.Time, ttl time.Duration) (string, *Token, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	t := &Token{
		ID:         ids.New(),
		UserID:     userID,
		SecretHash: hashTokenSecret(secret),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	return t.ID + "." + secret, t, nil
}

func splitToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid token format")
	}
	return parts[0], parts[1], nil
}

func hashTokenSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func verifyTokenSecret(storedHash, secret string) bool {
	actual := hashTokenSecret(secret)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
