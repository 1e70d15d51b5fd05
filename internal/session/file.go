package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileStorage keeps the anonymous identity in a JSON file on disk.
type FileStorage struct {
	path string
}

// NewFileStorage creates a file-backed storage at the given path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load returns the stored identity, or nil when the file does not exist.
func (s *FileStorage) Load(ctx context.Context) (*AnonymousUser, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read anonymous identity: %w", err)
	}

	var user AnonymousUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode anonymous identity: %w", err)
	}
	return &user, nil
}

// Save stores the identity, replacing any previous one.
func (s *FileStorage) Save(ctx context.Context, user *AnonymousUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode anonymous identity: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write anonymous identity: %w", err)
	}
	return nil
}

// Clear removes the stored identity.
func (s *FileStorage) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove anonymous identity: %w", err)
	}
	return nil
}
