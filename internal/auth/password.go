package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"golang.org/x/crypto/argon2"
)

const (
	defaultArgonMemory     = 128 * 1024 // KiB
	defaultArgonIterations = 4
)

var ErrInvalidHash = errors.New("invalid argon2id hash")

// ArgonParams are the cost parameters stored in every encoded hash.
type ArgonParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type PasswordHasher struct {
	params ArgonParams
}

func NewPasswordHasher() *PasswordHasher {
	return NewPasswordHasherWithParams(defaultArgonMemory, defaultArgonIterations)
}

// NewPasswordHasherFromConfig uses auth.password_memory_kib and
// auth.password_iterations; zero values fall back to the defaults.
func NewPasswordHasherFromConfig(cfg config.AuthConfig) *PasswordHasher {
	memory, iterations := cfg.PasswordMemoryKiB, cfg.PasswordIterations
	if memory == 0 {
		memory = defaultArgonMemory
	}
	if iterations == 0 {
		iterations = defaultArgonIterations
	}
	return NewPasswordHasherWithParams(memory, iterations)
}

// NewPasswordHasherWithParams sets memory (KiB) and iterations, e.g. for
// small ground-station boxes.
func NewPasswordHasherWithParams(memory, iterations uint32) *PasswordHasher {
	return &PasswordHasher{params: ArgonParams{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: uint8(min(runtime.NumCPU(), 255)),
		SaltLength:  16,
		KeyLength:   32,
	}}
}

func (ph *PasswordHasher) Params() ArgonParams { return ph.params }

// HashPassword returns $argon2id$v=19$m=<KiB>,t=<iter>,p=<par>$<salt>$<key>
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	p := ph.params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decodeHash splits an encoded hash into its parameters, salt and key.
func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ArgonParams{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var p ArgonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("%w: parameters: %v", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

// VerifyPassword checks password with the parameters stored in the hash,
// so hashes made with older settings keep working.
func (ph *PasswordHasher) VerifyPassword(password, encodedHash string) (bool, error) {
	p, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

// NeedsRehash reports whether the hash was made with weaker memory or
// iteration settings than the hasher's current ones.
func (ph *PasswordHasher) NeedsRehash(encodedHash string) bool {
	p, _, _, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	return p.Memory < ph.params.Memory || p.Iterations < ph.params.Iterations
}
