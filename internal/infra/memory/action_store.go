// Package memory holds in-process implementations of the client's storage
// interfaces, used as defaults and in tests.
package memory

import (
	"context"
	"sync"

	"quizbeam-client/internal/queue"
)

// ActionStore is an in-memory implementation of queue.Store.
type ActionStore struct {
	mu      sync.RWMutex
	actions map[queue.Key]queue.Action
}

func NewActionStore() *ActionStore {
	return &ActionStore{
		actions: make(map[queue.Key]queue.Action),
	}
}

func (s *ActionStore) Put(ctx context.Context, action queue.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.Key] = action
	return nil
}

func (s *ActionStore) Delete(ctx context.Context, key queue.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, key)
	return nil
}

func (s *ActionStore) List(ctx context.Context, sessionID, participantID string) ([]queue.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []queue.Action
	for key, action := range s.actions {
		if key.SessionID == sessionID && key.ParticipantID == participantID {
			out = append(out, action)
		}
	}
	return out, nil
}

func (s *ActionStore) Clear(ctx context.Context, sessionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.actions {
		if key.SessionID == sessionID && key.ParticipantID == participantID {
			delete(s.actions, key)
		}
	}
	return nil
}
