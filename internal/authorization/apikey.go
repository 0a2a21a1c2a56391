package authorization

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// APIKey is one configured operator credential. Only the Argon2id hash of
// the secret is kept.
type APIKey struct {
	Name string
	Role string
	Hash string
}

// ParseAPIKeys reads name:role:hash entries.
func ParseAPIKeys(entries []string) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(entries))
	seen := map[string]struct{}{}
	for _, entry := range entries {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: expected name:role:hash", ErrInvalidAPIKey)
		}
		key := APIKey{
			Name: strings.TrimSpace(parts[0]),
			Role: strings.ToLower(strings.TrimSpace(parts[1])),
			Hash: strings.TrimSpace(parts[2]),
		}
		if key.Name == "" || strings.Contains(key.Name, ".") {
			return nil, fmt.Errorf("%w: bad key name %q", ErrInvalidAPIKey, key.Name)
		}
		if !validRole(key.Role) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRole, key.Role)
		}
		if !strings.HasPrefix(key.Hash, "$argon2id$") {
			return nil, fmt.Errorf("%w: %s hash is not argon2id", ErrInvalidAPIKey, key.Name)
		}
		if _, dup := seen[key.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate key name %s", ErrInvalidAPIKey, key.Name)
		}
		seen[key.Name] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// SplitToken separates a presented "<name>.<secret>" token.
func SplitToken(token string) (name, secret string, ok bool) {
	name, secret, ok = strings.Cut(strings.TrimSpace(token), ".")
	if !ok || name == "" || secret == "" {
		return "", "", false
	}
	return name, secret, true
}

// HashSecret returns the encoded Argon2id hash for an API key secret.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// VerifySecret checks a secret against an encoded Argon2id hash.
func VerifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return false
	}
	memory, ok := parseParam(params[0], "m=", 32)
	if !ok {
		return false
	}
	timeCost, ok := parseParam(params[1], "t=", 32)
	if !ok {
		return false
	}
	threads, ok := parseParam(params[2], "p=", 8)
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(secret), salt, uint32(timeCost), uint32(memory), uint8(threads), uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

func parseParam(raw, prefix string, bits int) (uint64, bool) {
	value, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
