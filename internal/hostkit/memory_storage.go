package hostkit

import (
	"sync"

	"github.com/tyemirov/chatbridge/pkg/framebridge"
)

// MemoryStorage keeps every profile's storage in memory; intended for tests and dev.
type MemoryStorage struct {
	mutex    sync.Mutex
	profiles map[string]*framebridge.MemoryKeyValueStore
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{profiles: make(map[string]*framebridge.MemoryKeyValueStore)}
}

// ForProfile returns the storage of profileID, creating it on first use.
func (storage *MemoryStorage) ForProfile(profileID string) framebridge.KeyValueStore {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	profile, ok := storage.profiles[profileID]
	if !ok {
		profile = framebridge.NewMemoryKeyValueStore()
		storage.profiles[profileID] = profile
	}
	return profile
}
