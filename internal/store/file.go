// SPDX-License-Identifier: MIT

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStore keeps one JSON record file per profile under a data
// directory. Writes go through renameio so a crash mid-write never
// leaves a torn record behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path hashes the profile id into the filename; profile identifiers
// are opaque and may not be filesystem-safe.
func (s *FileStore) path(profileID string) string {
	sum := sha256.Sum256([]byte(profileID))
	return filepath.Join(s.dir, "profile-"+hex.EncodeToString(sum[:8])+".json")
}

func (s *FileStore) Load(profileID string) (*Record, error) {
	data, err := os.ReadFile(s.path(profileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (s *FileStore) Save(profileID string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := renameio.WriteFile(s.path(profileID), data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(profileID string) error {
	err := os.Remove(s.path(profileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Close() error { return nil }
