package credentialstore

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// SupersessionLog is an append-only record of user IDs whose credential was
// replaced by a later Put, rather than issued fresh. It is not consulted by
// Get/IsValid — re-registration is always allowed — but gives an operator an
// auditable, tamper-evident trail of re-registration activity, the same
// shape as the teacher's append-only SHA-256 commitment tree repurposed from
// tracking revoked credentials to tracking superseded ones.
type SupersessionLog struct {
	mu      sync.Mutex
	entries []string
	root    string
}

// NewSupersessionLog creates an empty log.
func NewSupersessionLog() *SupersessionLog {
	return &SupersessionLog{root: emptyRoot}
}

const emptyRoot = "0000000000000000000000000000000000000000000000000000000000000000"

// RecordSupersession appends userID to the log and recomputes the root.
func (l *SupersessionLog) RecordSupersession(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, userID)
	l.root = buildRoot(l.entries)
}

// Root returns the current Merkle root over all recorded supersessions.
func (l *SupersessionLog) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// Count returns how many supersessions have been recorded.
func (l *SupersessionLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func hashEntry(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

func hashPair(left, right string) string {
	leftBytes, _ := hex.DecodeString(left)
	rightBytes, _ := hex.DecodeString(right)
	combined := append(append([]byte{}, leftBytes...), rightBytes...)
	sum := sha256.Sum256(combined)
	return hex.EncodeToString(sum[:])
}

func buildRoot(entries []string) string {
	if len(entries) == 0 {
		return emptyRoot
	}

	level := make([]string, len(entries))
	for i, e := range entries {
		level[i] = hashEntry(e)
	}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
