package framebridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Persisted storage keys written by the bridge.
const (
	KeyToken        = "c1_auth_token"
	KeyUID          = "c1_auth_uid"
	KeyRefreshToken = "c1_auth_refresh"
	KeyEmail        = "c1_auth_email"
	KeyName         = "c1_auth_name"
)

// SessionKeys lists every key the bridge writes; Clear removes all of them.
var SessionKeys = []string{KeyToken, KeyUID, KeyRefreshToken, KeyEmail, KeyName}

// StoredSession is the persisted authentication state. Every field is optional.
type StoredSession struct {
	Token        string `json:"token,omitempty"`
	UID          string `json:"uid,omitempty"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsAuthenticated reports whether a bearer token is present.
func (session StoredSession) IsAuthenticated() bool {
	return strings.TrimSpace(session.Token) != ""
}

func (session StoredSession) fields() map[string]string {
	return map[string]string{
		KeyToken:        session.Token,
		KeyUID:          session.UID,
		KeyRefreshToken: session.RefreshToken,
		KeyEmail:        session.Email,
		KeyName:         session.Name,
	}
}

// TokenStore persists the bearer token and identity claims across page loads.
type TokenStore interface {
	Get(ctx context.Context) (StoredSession, error)
	Set(ctx context.Context, session StoredSession) error
	Clear(ctx context.Context) error
}

// KeyValueStore is the persisted storage contract behind a TokenStore.
// Each Put replaces the previous value of its key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type keyValueTokenStore struct {
	storage KeyValueStore
}

// NewTokenStore builds a TokenStore over the supplied key-value storage.
func NewTokenStore(storage KeyValueStore) TokenStore {
	return &keyValueTokenStore{storage: storage}
}

func (store *keyValueTokenStore) Get(ctx context.Context) (StoredSession, error) {
	values := make(map[string]string, len(SessionKeys))
	for _, key := range SessionKeys {
		value, found, err := store.storage.Get(ctx, key)
		if err != nil {
			return StoredSession{}, fmt.Errorf("token_store.get.%s: %w", key, err)
		}
		if found {
			values[key] = value
		}
	}
	return StoredSession{
		Token:        values[KeyToken],
		UID:          values[KeyUID],
		Email:        values[KeyEmail],
		Name:         values[KeyName],
		RefreshToken: values[KeyRefreshToken],
	}, nil
}

func (store *keyValueTokenStore) Set(ctx context.Context, session StoredSession) error {
	fieldValues := session.fields()
	var absent []string
	for _, key := range SessionKeys {
		value := fieldValues[key]
		if value == "" {
			absent = append(absent, key)
			continue
		}
		if err := store.storage.Put(ctx, key, value); err != nil {
			return fmt.Errorf("token_store.set.%s: %w", key, err)
		}
	}
	if len(absent) > 0 {
		if err := store.storage.Delete(ctx, absent...); err != nil {
			return fmt.Errorf("token_store.set.prune: %w", err)
		}
	}
	return nil
}

func (store *keyValueTokenStore) Clear(ctx context.Context) error {
	if err := store.storage.Delete(ctx, SessionKeys...); err != nil {
		return fmt.Errorf("token_store.clear: %w", err)
	}
	return nil
}

// MemoryKeyValueStore is an in-memory KeyValueStore intended for tests and dev.
type MemoryKeyValueStore struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryKeyValueStore creates an empty in-memory store.
func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{entries: make(map[string]string)}
}

// Get returns the value stored under key.
func (store *MemoryKeyValueStore) Get(ctx context.Context, key string) (string, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.entries[key]
	return value, ok, nil
}

// Put replaces the value stored under key.
func (store *MemoryKeyValueStore) Put(ctx context.Context, key string, value string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries[key] = value
	return nil
}

// Delete removes the supplied keys; missing keys are ignored.
func (store *MemoryKeyValueStore) Delete(ctx context.Context, keys ...string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, key := range keys {
		delete(store.entries, key)
	}
	return nil
}

// Len reports how many keys are stored.
func (store *MemoryKeyValueStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}
