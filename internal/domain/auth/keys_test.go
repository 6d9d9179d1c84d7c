package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type staticKeyStore struct {
	keys []*OperatorKey
}

func (s *staticKeyStore) LookupKey(ctx context.Context, sha256Hex string) (*OperatorKey, error) {
	for _, k := range s.keys {
		if DetectHashType(k.Hash) == HashSHA256 && NormalizeSHA256(k.Hash) == sha256Hex {
			return k, nil
		}
	}
	return nil, ErrInvalidKey
}

func (s *staticKeyStore) ListKeys(ctx context.Context) ([]*OperatorKey, error) {
	return s.keys, nil
}

var _ KeyStore = (*staticKeyStore)(nil)

func TestKeyVerifier_Verify(t *testing.T) {
	t.Parallel()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	argonHash, err := HashKeyArgon2id("argon-key")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}

	store := &staticKeyStore{keys: []*OperatorKey{
		{Hash: "sha256:" + HashKey("ops-key"), Operator: Operator{Name: "ops", Roles: []Role{RoleAdmin}}},
		{Hash: HashKey("bare-key"), Operator: Operator{Name: "dash", Roles: []Role{RoleViewer}}, ExpiresAt: &future},
		{Hash: argonHash, Operator: Operator{Name: "ci", Roles: []Role{RoleViewer}}},
		{Hash: HashKey("old-key"), Operator: Operator{Name: "old"}, ExpiresAt: &past},
		{Hash: HashKey("revoked-key"), Operator: Operator{Name: "gone"}, Revoked: true},
	}}
	v := NewKeyVerifier(store)

	tests := []struct {
		raw      string
		wantName string
		wantErr  error
	}{
		{raw: "ops-key", wantName: "ops"},
		{raw: "bare-key", wantName: "dash"},
		{raw: "argon-key", wantName: "ci"},
		{raw: "old-key", wantErr: ErrInvalidKey},
		{raw: "revoked-key", wantErr: ErrInvalidKey},
		{raw: "nope", wantErr: ErrInvalidKey},
		{raw: "", wantErr: ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			op, err := v.Verify(context.Background(), tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if op.Name != tt.wantName {
				t.Errorf("operator = %q, want %q", op.Name, tt.wantName)
			}
		})
	}
}

func TestDetectHashType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hash string
		want HashType
	}{
		{"$argon2id$v=19$m=47104,t=1,p=1$abc$xyz", HashArgon2id},
		{"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashSHA256},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashSHA256},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85g", HashUnknown},
		{"abc123", HashUnknown},
		{"$bcrypt$abc", HashUnknown},
		{"", HashUnknown},
	}
	for _, tt := range tests {
		if got := DetectHashType(tt.hash); got != tt.want {
			t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestVerifyKey(t *testing.T) {
	t.Parallel()

	hash, err := HashKeyArgon2id("k")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash = %q, want PHC format", hash)
	}
	if ok, err := VerifyKey("k", hash); !ok || err != nil {
		t.Errorf("VerifyKey(argon2id) = %v, %v", ok, err)
	}
	if ok, _ := VerifyKey("wrong", hash); ok {
		t.Error("VerifyKey matched the wrong key")
	}
	if ok, err := VerifyKey("k", "sha256:"+strings.ToUpper(HashKey("k"))); !ok || err != nil {
		t.Errorf("VerifyKey(uppercase sha256) = %v, %v", ok, err)
	}
	if _, err := VerifyKey("k", "plaintext"); !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("VerifyKey(unknown) error = %v", err)
	}
	if _, err := VerifyKey("k", "$argon2id$v=19$m=47104,t=0,p=0$c2FsdHNhbHQ$aGFzaGhhc2g"); err == nil {
		t.Error("VerifyKey accepted malformed argon2id parameters")
	}
}

func TestOperator_Roles(t *testing.T) {
	t.Parallel()

	op := &Operator{Name: "ops", Roles: []Role{RoleViewer}}
	if !op.HasRole(RoleViewer) || op.HasRole(RoleAdmin) {
		t.Errorf("HasRole wrong for %+v", op.Roles)
	}
	if !op.HasAnyRole(RoleAdmin, RoleViewer) || op.HasAnyRole() {
		t.Error("HasAnyRole wrong")
	}
	if Role("root").IsValid() || !RoleAdmin.IsValid() {
		t.Error("IsValid wrong")
	}
}
