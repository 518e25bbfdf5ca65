package credentialstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process TTL cache. It is the client-side analogue
// described in spec §4.2 ("persistent local store in the client") — here
// the persistence boundary is the process, not a disk file, which is the
// right fit for a thin client embedding this module directly.
type MemoryStore struct {
	mu           sync.RWMutex
	byUID        map[string]Credential
	now          func() time.Time
	supersession *SupersessionLog
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUID:        make(map[string]Credential),
		now:          time.Now,
		supersession: NewSupersessionLog(),
	}
}

// Supersessions returns the store's re-registration audit log.
func (s *MemoryStore) Supersessions() *SupersessionLog {
	return s.supersession
}

func (s *MemoryStore) Put(_ context.Context, userID string, cred Credential) error {
	cred.UserID = userID
	if cred.ExpiresAt.IsZero() {
		base := cred.IssuedAt
		if base.IsZero() {
			base = s.now()
		}
		cred.ExpiresAt = base.Add(MaxCredentialAge)
	}
	s.mu.Lock()
	_, existed := s.byUID[userID]
	s.byUID[userID] = cred
	s.mu.Unlock()

	if existed {
		s.supersession.RecordSupersession(userID)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Credential, error) {
	s.mu.RLock()
	cred, ok := s.byUID[userID]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrNotFound
	}

	now := s.now()
	if cred.expired(now) || !cred.valid() {
		s.mu.Lock()
		delete(s.byUID, userID)
		s.mu.Unlock()
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUID, userID)
	return nil
}

func (s *MemoryStore) IsValid(ctx context.Context, userID string) (bool, error) {
	_, err := s.Get(ctx, userID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
