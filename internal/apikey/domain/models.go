// Package domain defines machine credentials for service providers. Keys let
// provider tooling log work and read balances without a user session. Only
// the bcrypt hash is stored; the plaintext is shown once at creation.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	ScopeWorkLogWrite = "work_logs:write"
	ScopeBalanceRead  = "balance:read"
	ScopeLedgerRead   = "ledger:read"
)

// APIKey stores hashed API credentials scoped to a service provider.
type APIKey struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	ProviderID       snowflake.ID   `gorm:"column:provider_id;not null;index"`
	KeyID            string         `gorm:"column:key_id;type:text;not null;uniqueIndex:ux_api_keys_key_id"`
	Name             string         `gorm:"type:text;not null"`
	Scopes           pq.StringArray `gorm:"type:text[];not null"`
	KeyHash          string         `gorm:"column:key_hash;type:text;not null"`
	IsActive         bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt       *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time     `gorm:"column:expires_at"`
	RotatedFromKeyID *string        `gorm:"column:rotated_from_key_id;type:text"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// HasScope reports whether the key carries the scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type CreateRequest struct {
	ProviderID snowflake.ID
	Name       string
	Scopes     []string
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, providerID snowflake.ID) ([]APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedAt time.Time) error
}

type Service interface {
	List(ctx context.Context, providerID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, providerID snowflake.ID, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, providerID snowflake.ID, keyID string) error
	// Authenticate resolves a presented plaintext key to its record. Inactive
	// and expired keys fail the same way as unknown ones.
	Authenticate(ctx context.Context, raw string) (*APIKey, error)
}

var (
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidKeyID    = errors.New("invalid_key_id")
	ErrInvalidScope    = errors.New("invalid_scope")
	ErrNotFound        = errors.New("not_found")
	ErrUnauthorized    = errors.New("unauthorized")
)
