// Package auth carries caller identity between tenant, controller and shards
// and implements the authorization predicates both tiers enforce.
package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Principal is an authenticated caller identity.
type Principal string

// Anonymous is the principal of unauthenticated calls. No guard accepts it.
const Anonymous Principal = ""

// Signer mints and verifies principal tokens with a cluster-wide secret.
// A token has the form "<principal>.<hex keyed-blake2b-256(principal)>".
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. Secrets longer than the BLAKE2b key limit are
// hashed down to 32 bytes.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Signer{key: key}, nil
}

// Mint returns a token for p.
func (s *Signer) Mint(p Principal) (string, error) {
	if p == Anonymous {
		return "", fmt.Errorf("cannot mint token for anonymous principal")
	}
	mac, err := s.mac(p)
	if err != nil {
		return "", err
	}
	return string(p) + "." + hex.EncodeToString(mac), nil
}

// Verify checks a token and returns its principal.
func (s *Signer) Verify(token string) (Principal, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return Anonymous, fmt.Errorf("malformed token")
	}
	p := Principal(token[:idx])
	got, err := hex.DecodeString(token[idx+1:])
	if err != nil {
		return Anonymous, fmt.Errorf("malformed token signature: %w", err)
	}
	want, err := s.mac(p)
	if err != nil {
		return Anonymous, err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return Anonymous, fmt.Errorf("invalid token signature")
	}
	return p, nil
}

func (s *Signer) mac(p Principal) ([]byte, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init mac: %w", err)
	}
	h.Write([]byte(p))
	return h.Sum(nil), nil
}
