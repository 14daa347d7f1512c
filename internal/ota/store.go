// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ota

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BootRecord is the persisted boot selection.
type BootRecord struct {
	Seq       uint32    `json:"seq"`
	Label     string    `json:"label"`
	ImageSize int64     `json:"image_size"`
	CRC32     uint32    `json:"crc32"`
	Updated   time.Time `json:"updated"`
}

// BootStore persists the boot selection across restarts.
type BootStore interface {
	// Load returns the current record, or nil if none was ever saved.
	Load() (*BootRecord, error)
	Save(rec BootRecord) error
	Close() error
}

var (
	otaBucketKey = []byte("otadata")
	bootKey      = []byte("boot")
)

// BoltStore keeps the boot record in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boot store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(otaBucketKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init boot store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (*BootRecord, error) {
	var rec *BootRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		row := tx.Bucket(otaBucketKey).Get(bootKey)
		if row == nil {
			return nil
		}
		rec = &BootRecord{}
		return json.Unmarshal(row, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load boot record: %w", err)
	}
	return rec, nil
}

func (s *BoltStore) Save(rec BootRecord) error {
	row, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(otaBucketKey).Put(bootKey, row)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore is a volatile BootStore.
type MemoryStore struct {
	mu  sync.Mutex
	rec *BootRecord
}

func (s *MemoryStore) Load() (*BootRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	rec := *s.rec
	return &rec, nil
}

func (s *MemoryStore) Save(rec BootRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

func (s *MemoryStore) Close() error { return nil }
