// Package practice holds the per-tenant configuration of the practice-system
// integration: credentials, scoping identifiers and connection status.
package practice

import (
	"time"

	"github.com/google/uuid"
)

// Connection statuses.
const (
	StatusConnected    = "connected"
	StatusError        = "error"
	StatusUnconfigured = "unconfigured"
)

// Environments.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Practice is one tenant's sync configuration.
type Practice struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Subdomain    string     `db:"subdomain" json:"subdomain"`
	LocationID   string     `db:"location_id" json:"location_id"`
	Environment  string     `db:"environment" json:"environment"`
	APIKey       string     `db:"api_key" json:"-"`
	Status       string     `db:"status" json:"status"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Configured reports whether the practice carries enough to reach upstream.
func (p *Practice) Configured() bool {
	return p.APIKey != "" && p.Subdomain != "" && p.LocationID != ""
}
