package db

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/copilot-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the durable credential store: two independent collections,
// accounts and API keys. Reads degrade to empty collections, writes surface
// their errors.
type Store struct {
	db *gorm.DB
}

// Open initializes the SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if err := gdb.AutoMigrate(&models.Account{}, &models.APIKey{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: gdb}, nil
}

// LoadAccounts returns every stored account. An empty table yields an empty
// slice, not an error.
func (s *Store) LoadAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// SaveAccounts replaces the stored account collection. Last write wins.
func (s *Store) SaveAccounts(accounts []models.Account) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Account{}).Error; err != nil {
			return err
		}
		if len(accounts) == 0 {
			return nil
		}
		return tx.Create(&accounts).Error
	})
}

// LoadAPIKeys returns every stored API key.
func (s *Store) LoadAPIKeys() ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.Order("created_at").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// SaveAPIKeys replaces the stored API key collection.
func (s *Store) SaveAPIKeys(keys []models.APIKey) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return tx.Create(&keys).Error
	})
}

// FindAPIKey looks up a key by its value. Returns (nil, nil) when absent.
func (s *Store) FindAPIKey(key string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := s.db.Where("key = ?", key).First(&apiKey).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// HasAPIKeys reports whether any gateway keys are configured.
func (s *Store) HasAPIKeys() (bool, error) {
	var count int64
	if err := s.db.Model(&models.APIKey{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAPIKey generates and persists a new key: cak_<43 base64url chars>.
func (s *Store) CreateAPIKey(label string) (*models.APIKey, error) {
	apiKey := models.APIKey{
		Key:       generateAPIKeyValue(),
		Label:     label,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&apiKey).Error; err != nil {
		return nil, err
	}
	return &apiKey, nil
}

func generateAPIKeyValue() string {
	keyBytes := make([]byte, 32)
	rand.Read(keyBytes)
	return "cak_" + base64.RawURLEncoding.EncodeToString(keyBytes)
}
