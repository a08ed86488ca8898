// Package file persists client state as JSON files on disk, the equivalent
// of browser local storage for a single-device kiosk or terminal client.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"quizbeam-client/internal/domain"
)

// CredentialStore keeps the one credential a device holds in a single JSON
// file. Writes go through a temp file and rename so a crash mid-write never
// leaves a torn credential.
type CredentialStore struct {
	path string
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

func (s *CredentialStore) Save(_ context.Context, cred domain.Credential) error {
	raw, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return writeAtomic(s.path, raw, 0o600)
}

func (s *CredentialStore) Load(_ context.Context) (domain.Credential, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Credential{}, domain.ErrNoCredential
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("read credential: %w", err)
	}
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
