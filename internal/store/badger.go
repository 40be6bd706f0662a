// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps records in an embedded badger database. It serves
// deployments that already mount a single writable directory and
// prefer one database file tree over loose JSON files.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(profileID string) []byte {
	return []byte("record/" + profileID)
}

func (s *BadgerStore) Load(profileID string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(profileID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BadgerStore) Save(profileID string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(profileID), data)
	})
}

func (s *BadgerStore) Delete(profileID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(profileID))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
