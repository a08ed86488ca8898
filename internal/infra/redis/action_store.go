package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizbeam-client/internal/queue"
)

// ActionStore keeps queued answers as one hash per participant:
// HSET quizclient:queue:{sessionID}:{participantID} {questionID} {json}.
// The hash expires as a whole so crashed clients do not leak entries.
type ActionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewActionStore(client *redis.Client, ttl time.Duration) *ActionStore {
	return &ActionStore{client: client, ttl: ttl}
}

func (s *ActionStore) Put(ctx context.Context, action queue.Action) error {
	raw, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	key := s.key(action.Key.SessionID, action.Key.ParticipantID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, action.Key.QuestionID, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store action: %w", err)
	}
	return nil
}

func (s *ActionStore) Delete(ctx context.Context, key queue.Key) error {
	if err := s.client.HDel(ctx, s.key(key.SessionID, key.ParticipantID), key.QuestionID).Err(); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

func (s *ActionStore) List(ctx context.Context, sessionID, participantID string) ([]queue.Action, error) {
	entries, err := s.client.HGetAll(ctx, s.key(sessionID, participantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	actions := make([]queue.Action, 0, len(entries))
	for field, raw := range entries {
		var action queue.Action
		if err := json.Unmarshal([]byte(raw), &action); err != nil {
			return nil, fmt.Errorf("decode action %s: %w", field, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (s *ActionStore) Clear(ctx context.Context, sessionID, participantID string) error {
	if err := s.client.Del(ctx, s.key(sessionID, participantID)).Err(); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}

func (s *ActionStore) key(sessionID, participantID string) string {
	return "quizclient:queue:" + sessionID + ":" + participantID
}
