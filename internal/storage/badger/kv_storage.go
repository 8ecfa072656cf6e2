package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/codestory/internal/interfaces"
)

// kvPair is the stored record for one key/value entry
type kvPair struct {
	Key       string `badgerhold:"key"`
	Value     string
	UpdatedAt time.Time
}

// KVStorage implements the KeyValueStorage interface for Badger.
// Steps use it as a job-scoped handoff area by prefixing keys with the job ID.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a value by key
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var pair kvPair
	err := s.db.Store().Get(key, &pair)
	if err == badgerhold.ErrNotFound {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}

	return pair.Value, nil
}

// Set inserts or updates a key/value pair
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	pair := kvPair{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(key, &pair); err != nil {
		return fmt.Errorf("failed to set key/value: %w", err)
	}
	return nil
}

// Delete removes a key/value pair
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &kvPair{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys starting with the given prefix
func (s *KVStorage) DeleteByPrefix(ctx context.Context, prefix string) error {
	query := badgerhold.Where("Key").Ge(prefix).And("Key").Lt(prefix + "\xff")
	if err := s.db.Store().DeleteMatching(&kvPair{}, query); err != nil {
		return fmt.Errorf("failed to delete keys by prefix: %w", err)
	}
	return nil
}

// ListByPrefix returns all key/value pairs with keys starting with the given prefix
func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	query := badgerhold.Where("Key").Ge(prefix).And("Key").Lt(prefix + "\xff")

	var pairs []kvPair
	if err := s.db.Store().Find(&pairs, query); err != nil {
		return nil, fmt.Errorf("failed to list keys by prefix: %w", err)
	}

	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		result[pair.Key] = pair.Value
	}
	return result, nil
}
