// Package kv provides the string-keyed JSON store that holds groups, members and profiles,
// plus per-key locks used to serialize mutations of a group.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: not found")
	// ErrUnavailable wraps backend I/O failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// Store is a minimal key-value store of JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Locker grants exclusive access to a key until the returned release func is called.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// GetJSON loads key and decodes it into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	raw, errGet := s.Get(ctx, key)
	if errGet != nil {
		return errGet
	}
	if errUnmarshal := json.Unmarshal(raw, out); errUnmarshal != nil {
		return fmt.Errorf("kv: decode %s: %w", key, errUnmarshal)
	}
	return nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("kv: encode %s: %w", key, errMarshal)
	}
	return s.Set(ctx, key, raw)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("kv: %s %s: %w: %w", op, key, ErrUnavailable, err)
}
