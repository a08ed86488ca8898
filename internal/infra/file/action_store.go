package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"quizbeam-client/internal/queue"
)

// ActionStore keeps the offline answer queue as one JSON file per
// participant under a directory.
type ActionStore struct {
	dir string
}

func NewActionStore(dir string) *ActionStore {
	return &ActionStore{dir: dir}
}

func (s *ActionStore) Put(ctx context.Context, action queue.Action) error {
	actions, err := s.load(action.Key.SessionID, action.Key.ParticipantID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range actions {
		if actions[i].Key == action.Key {
			actions[i] = action
			replaced = true
			break
		}
	}
	if !replaced {
		actions = append(actions, action)
	}
	return s.write(action.Key.SessionID, action.Key.ParticipantID, actions)
}

func (s *ActionStore) Delete(ctx context.Context, key queue.Key) error {
	actions, err := s.load(key.SessionID, key.ParticipantID)
	if err != nil {
		return err
	}
	kept := actions[:0]
	for _, a := range actions {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		return s.Clear(ctx, key.SessionID, key.ParticipantID)
	}
	return s.write(key.SessionID, key.ParticipantID, kept)
}

func (s *ActionStore) List(_ context.Context, sessionID, participantID string) ([]queue.Action, error) {
	return s.load(sessionID, participantID)
}

func (s *ActionStore) Clear(_ context.Context, sessionID, participantID string) error {
	err := os.Remove(s.path(sessionID, participantID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

func (s *ActionStore) load(sessionID, participantID string) ([]queue.Action, error) {
	raw, err := os.ReadFile(s.path(sessionID, participantID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	var actions []queue.Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return actions, nil
}

func (s *ActionStore) write(sessionID, participantID string, actions []queue.Action) error {
	raw, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	return writeAtomic(s.path(sessionID, participantID), raw, 0o644)
}

func (s *ActionStore) path(sessionID, participantID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("queue-%s-%s.json", sessionID, participantID))
}
