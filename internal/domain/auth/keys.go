package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

var (
	// ErrInvalidKey covers unknown, expired and revoked keys alike.
	ErrInvalidKey = errors.New("invalid operator key")
	// ErrUnknownHashType is returned for stored hashes in no known format.
	ErrUnknownHashType = errors.New("unknown hash type")
)

// KeyStore lists the configured operator keys.
type KeyStore interface {
	// LookupKey returns the key stored under an exact SHA-256 hash, or
	// ErrInvalidKey.
	LookupKey(ctx context.Context, sha256Hex string) (*OperatorKey, error)
	// ListKeys returns every key, for hashes that need per-key verification.
	ListKeys(ctx context.Context) ([]*OperatorKey, error)
}

// HashType names a stored hash format.
type HashType string

const (
	HashArgon2id HashType = "argon2id"
	HashSHA256   HashType = "sha256"
	HashUnknown  HashType = "unknown"
)

// KeyVerifier resolves raw operator keys to operators.
type KeyVerifier struct {
	store KeyStore
}

// NewKeyVerifier creates a verifier over store.
func NewKeyVerifier(store KeyStore) *KeyVerifier {
	return &KeyVerifier{store: store}
}

// Verify returns the operator owning rawKey. SHA-256 hashes are found by
// direct lookup; Argon2id hashes are tried one by one.
func (v *KeyVerifier) Verify(ctx context.Context, rawKey string) (*Operator, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	if key, err := v.store.LookupKey(ctx, HashKey(rawKey)); err == nil {
		return usable(key)
	}

	keys, err := v.store.ListKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, key := range keys {
		if DetectHashType(key.Hash) != HashArgon2id {
			continue
		}
		if ok, err := VerifyKey(rawKey, key.Hash); err == nil && ok {
			return usable(key)
		}
	}
	return nil, ErrInvalidKey
}

func usable(key *OperatorKey) (*Operator, error) {
	if key.Revoked || key.IsExpired() {
		return nil, ErrInvalidKey
	}
	op := key.Operator
	return &op, nil
}

// HashKey returns the SHA-256 hex digest of rawKey.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// OWASP minimum for Argon2id: 46 MiB, one pass, one lane.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns a salted Argon2id hash of rawKey in PHC format.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the format of a stored hash.
func DetectHashType(stored string) HashType {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return HashArgon2id
	case strings.HasPrefix(stored, "sha256:"):
		return HashSHA256
	case len(stored) == sha256.Size*2 && isHex(stored):
		return HashSHA256
	default:
		return HashUnknown
	}
}

// NormalizeSHA256 strips the optional "sha256:" prefix and lowercases the
// digest so it can be used as a lookup key.
func NormalizeSHA256(stored string) string {
	return strings.ToLower(strings.TrimPrefix(stored, "sha256:"))
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyKey compares rawKey against a stored hash in constant time.
func VerifyKey(rawKey, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case HashArgon2id:
		return compareArgon2id(rawKey, stored)
	case HashSHA256:
		want := NormalizeSHA256(stored)
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(want)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// compareArgon2id turns the library's panic on malformed parameters
// (t=0, p=0) into an error.
func compareArgon2id(rawKey, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = false, fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, stored)
}
