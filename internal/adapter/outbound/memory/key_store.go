package memory

import (
	"context"
	"sync"

	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
)

// KeyStore implements auth.KeyStore over keys loaded from configuration.
type KeyStore struct {
	mu       sync.RWMutex
	bySHA256 map[string]*auth.OperatorKey
	all      []*auth.OperatorKey
}

// NewKeyStore creates a key store seeded with keys.
func NewKeyStore(keys ...*auth.OperatorKey) *KeyStore {
	s := &KeyStore{bySHA256: make(map[string]*auth.OperatorKey)}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add stores a copy of key.
func (s *KeyStore) Add(key *auth.OperatorKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kc := copyKey(key)
	s.all = append(s.all, kc)
	if auth.DetectHashType(kc.Hash) == auth.HashSHA256 {
		s.bySHA256[auth.NormalizeSHA256(kc.Hash)] = kc
	}
}

func (s *KeyStore) LookupKey(ctx context.Context, sha256Hex string) (*auth.OperatorKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.bySHA256[sha256Hex]
	if !ok {
		return nil, auth.ErrInvalidKey
	}
	return copyKey(k), nil
}

func (s *KeyStore) ListKeys(ctx context.Context) ([]*auth.OperatorKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.OperatorKey, 0, len(s.all))
	for _, k := range s.all {
		out = append(out, copyKey(k))
	}
	return out, nil
}

func copyKey(k *auth.OperatorKey) *auth.OperatorKey {
	kc := *k
	kc.Operator.Roles = append([]auth.Role(nil), k.Operator.Roles...)
	return &kc
}

var _ auth.KeyStore = (*KeyStore)(nil)
