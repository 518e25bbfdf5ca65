// Package credentialstore implements the session-credential store (C2): a
// key-value store under user_id holding the registry membership material a
// user needs to prove with, without ever holding an address, email, phone,
// or real-name field. Two implementations share one interface: an
// in-process TTL cache for client-side/thin-server deployments, and a
// Postgres-backed store for a durable server-side deployment, grounded on
// certenIO's pkg/database client/repository layering.
package credentialstore

import (
	"context"
	"errors"
	"time"
)

// MaxCredentialAge is the hard expiry cap (spec §4.2): independent of usage,
// a credential older than this is always treated as missing.
const MaxCredentialAge = 6 * 30 * 24 * time.Hour

// ErrNotFound is returned by Get when no live credential exists for a user,
// whether because none was ever stored, it expired, or it failed schema
// validation on read.
var ErrNotFound = errors.New("credentialstore: credential not found")

// Credential is the registry membership material bound into a proof. It
// carries no personally identifying field by design.
type Credential struct {
	UserID             string
	Commitment         string // decimal field element, the identity commitment
	DistrictID         string
	MerkleRoot         string
	MerklePath         []string
	MerkleHelper       []string
	LeafIndex          uint64
	Depth              int
	AuthorityLevel     int    // registry-attested verification tier, 1..5 (spec §3)
	VerificationMethod string // e.g. "passport_nfc", attested by the identity provider
	IssuedAt           time.Time
	ExpiresAt          time.Time
}

// expired reports whether c is past its ExpiresAt as of now.
func (c Credential) expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// valid reports whether c is structurally usable: non-empty identifying
// fields, an authority level within the circuit's bound, and a merkle
// path/helper pair of matching, non-zero length. A credential written by an
// older schema version that fails this check is treated as missing rather
// than causing a panic deeper in the prover.
func (c Credential) valid() bool {
	if c.UserID == "" || c.Commitment == "" || c.DistrictID == "" || c.MerkleRoot == "" {
		return false
	}
	if len(c.MerklePath) == 0 || len(c.MerklePath) != len(c.MerkleHelper) {
		return false
	}
	if c.AuthorityLevel < 1 || c.AuthorityLevel > 5 {
		return false
	}
	return true
}

// Store is the C2 contract. Implementations must make Get observe an
// expired or schema-invalid credential as ErrNotFound, never surface it.
type Store interface {
	// Put atomically replaces the credential stored for userID.
	Put(ctx context.Context, userID string, cred Credential) error
	// Get returns the live credential for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (Credential, error)
	// Clear removes any credential stored for userID.
	Clear(ctx context.Context, userID string) error
	// IsValid reports whether a live, unexpired credential exists.
	IsValid(ctx context.Context, userID string) (bool, error)
}
