package hostkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	errEmptyDatabaseURL    = errors.New("storage.empty_database_url")
	errSQLiteEmptyPath     = errors.New("storage.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("storage.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("storage.unsupported_no_scheme")
)

// DatabaseStorage persists per-profile bridge storage using GORM.
type DatabaseStorage struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (storage *DatabaseStorage) Driver() string {
	return storage.driverLabel
}

type storageRecord struct {
	ProfileID     string `gorm:"column:profile_id;primaryKey"`
	StorageKey    string `gorm:"column:storage_key;primaryKey"`
	Value         string `gorm:"column:value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (storageRecord) TableName() string {
	return "bridge_storage"
}

// NewDatabaseStorage opens databaseURL and migrates the storage table.
func NewDatabaseStorage(ctx context.Context, databaseURL string) (*DatabaseStorage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("storage.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("storage.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&storageRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("storage.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStorage{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// ForProfile scopes the table to one browser profile.
func (storage *DatabaseStorage) ForProfile(profileID string) framebridge.KeyValueStore {
	return &profileRecords{storage: storage, profileID: profileID}
}

// Close releases the underlying connection pool.
func (storage *DatabaseStorage) Close() error {
	sqlDB, err := storage.db.DB()
	if err != nil {
		return fmt.Errorf("storage.close.%s: %w", storage.driverLabel, err)
	}
	return sqlDB.Close()
}

type profileRecords struct {
	storage   *DatabaseStorage
	profileID string
}

func (records *profileRecords) Get(ctx context.Context, key string) (string, bool, error) {
	driver := records.storage.driverLabel
	if records.profileID == "" {
		return "", false, fmt.Errorf("storage.get.%s: %w", driver, ErrEmptyProfileID)
	}
	var record storageRecord
	err := records.storage.db.WithContext(ctx).
		Where("profile_id = ? AND storage_key = ?", records.profileID, key).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage.get.%s: %w", driver, err)
	}
	return record.Value, true, nil
}

func (records *profileRecords) Put(ctx context.Context, key string, value string) error {
	driver := records.storage.driverLabel
	if records.profileID == "" {
		return fmt.Errorf("storage.put.%s: %w", driver, ErrEmptyProfileID)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage.put.%s: %w", driver, ErrEmptyStorageKey)
	}
	record := storageRecord{
		ProfileID:     records.profileID,
		StorageKey:    key,
		Value:         value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := records.storage.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_id"}, {Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("storage.put.%s: %w", driver, err)
	}
	return nil
}

func (records *profileRecords) Delete(ctx context.Context, keys ...string) error {
	driver := records.storage.driverLabel
	if records.profileID == "" {
		return fmt.Errorf("storage.delete.%s: %w", driver, ErrEmptyProfileID)
	}
	if len(keys) == 0 {
		return nil
	}
	err := records.storage.db.WithContext(ctx).
		Where("profile_id = ? AND storage_key IN ?", records.profileID, keys).
		Delete(&storageRecord{}).Error
	if err != nil {
		return fmt.Errorf("storage.delete.%s: %w", driver, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("storage.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("storage.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("storage.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("storage.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
