package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore persists values in an embedded leveldb database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the leveldb database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, fmt.Errorf("kv leveldb: open %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// Get loads the value stored under key.
func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", key, err)
	}
	return value, nil
}

// Set writes value synchronously.
func (s *LevelDBStore) Set(_ context.Context, key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true}); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Delete removes key.
func (s *LevelDBStore) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), &opt.WriteOptions{Sync: true}); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// Close releases the database files.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
