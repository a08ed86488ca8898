package memory

import (
	"context"
	"sync"

	"quizbeam-client/internal/domain"
)

// CredentialStore holds at most one session credential in process memory.
// Suitable for tests and for roles that should not survive a restart.
type CredentialStore struct {
	mu   sync.RWMutex
	cred domain.Credential
	has  bool
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

func (s *CredentialStore) Save(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.has = true
	return nil
}

func (s *CredentialStore) Load(_ context.Context) (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return domain.Credential{}, domain.ErrNoCredential
	}
	return s.cred, nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = domain.Credential{}
	s.has = false
	return nil
}
