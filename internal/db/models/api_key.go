package models

import "time"

// APIKey is a gateway-level credential, distinct from the GitHub credentials
// held by accounts. Key values are generated, never user-supplied.
type APIKey struct {
	Key       string `gorm:"primaryKey" json:"key"`
	Label     string `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
