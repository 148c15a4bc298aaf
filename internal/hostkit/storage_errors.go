package hostkit

import "errors"

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("storage.unsupported_dialect")
	// ErrEmptyProfileID indicates a storage operation without a profile namespace.
	ErrEmptyProfileID = errors.New("storage.empty_profile_id")
	// ErrEmptyStorageKey indicates a write without a key.
	ErrEmptyStorageKey = errors.New("storage.empty_key")
)
