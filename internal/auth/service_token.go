package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const serviceTokenPrefix = "smcu_"

// GenerateServiceToken creates a new service token for ground tooling.
// Format: smcu_<uuid>_<random_secret>. Only the hash is configured.
func GenerateServiceToken() (token, hash string, err error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	token = fmt.Sprintf("%s%s_%s", serviceTokenPrefix, id.String(), secret)
	return token, HashServiceToken(token), nil
}

// HashServiceToken hashes a service token for storage
func HashServiceToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// IsServiceToken checks the token format without looking it up.
func IsServiceToken(token string) bool {
	return len(token) >= len(serviceTokenPrefix)+36+1+64 && strings.HasPrefix(token, serviceTokenPrefix)
}
