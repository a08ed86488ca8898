// Package redis provides Redis-backed client stores for fleets where several
// processes act as one device, e.g. a venue wall of big screens sharing a
// session identity, or participants roaming between kiosk terminals.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizbeam-client/internal/domain"
)

// CredentialStore keeps one credential per device key as a JSON string value.
// A TTL keeps abandoned identities from outliving any plausible session.
type CredentialStore struct {
	client   *redis.Client
	deviceID string
	ttl      time.Duration
}

func NewCredentialStore(client *redis.Client, deviceID string, ttl time.Duration) *CredentialStore {
	return &CredentialStore{
		client:   client,
		deviceID: deviceID,
		ttl:      ttl,
	}
}

func (s *CredentialStore) Save(ctx context.Context, cred domain.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Load(ctx context.Context) (domain.Credential, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Credential{}, domain.ErrNoCredential
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) key() string {
	return "quizclient:credential:" + s.deviceID
}
