package hostkit

import "github.com/tyemirov/chatbridge/pkg/framebridge"

// StorageBackend hands out the persisted key-value storage of one browser profile.
type StorageBackend interface {
	ForProfile(profileID string) framebridge.KeyValueStore
}

// TokenStoreForProfile returns the bridge TokenStore of a browser profile.
func TokenStoreForProfile(storage StorageBackend, profileID string) framebridge.TokenStore {
	return framebridge.NewTokenStore(storage.ForProfile(profileID))
}
