package models

import "time"

// Account is the durable subset of a pool account. Live state (the Copilot
// bearer token, the model catalog, usage snapshots) is never persisted.
type Account struct {
	ID          string `gorm:"primaryKey"` // GitHub login, or a generated opaque id
	GithubToken string `gorm:"uniqueIndex"`
	AccountType string // individual, business, enterprise
	Login       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
