// Package auth guards the admin endpoints.
//
// There are no user accounts: a single shared admin token is configured at
// startup. Only a bcrypt hash of it is kept in memory, and every admin
// request is checked against that hash.
//
// WHY SHA-256 FIRST?
// bcrypt only looks at the first 72 bytes of its input. Operators may set
// longer tokens, so the token is reduced to a 64-char hex SHA-256 digest
// before it is handed to bcrypt. Every byte of the token still counts.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/code-ingest/internal/apperror"
)

// DefaultCost is the bcrypt work factor used in production.
const DefaultCost = 12

// ErrEmptyToken is returned when no admin token is configured.
var ErrEmptyToken = errors.New("auth: admin token must not be empty")

// AdminGuard verifies candidate admin tokens. Safe for concurrent use.
type AdminGuard struct {
	hash []byte
}

// NewAdminGuard hashes token with DefaultCost.
func NewAdminGuard(token string) (*AdminGuard, error) {
	return NewAdminGuardWithCost(token, DefaultCost)
}

// NewAdminGuardWithCost hashes token with the given bcrypt cost. Tests use
// bcrypt.MinCost to stay fast.
func NewAdminGuardWithCost(token string, cost int) (*AdminGuard, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword(digest(token), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hashing admin token: %w", err)
	}
	return &AdminGuard{hash: hash}, nil
}

// Verify reports whether candidate is the admin token. The comparison is
// constant-time.
func (g *AdminGuard) Verify(candidate string) bool {
	if candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, digest(candidate)) == nil
}

// Check is Verify as an error: nil for the admin token, an
// apperror.ErrUnauthorized otherwise.
func (g *AdminGuard) Check(candidate string) error {
	if !g.Verify(candidate) {
		return apperror.Unauthorized("admin token rejected")
	}
	return nil
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
