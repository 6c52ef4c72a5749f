// Package domain contains persistence models for service providers, the
// vendor side of the ledger: providers log work hours that draw down an
// organization's purchased credit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ServiceProvider is a vendor that performs work billed against credit.
type ServiceProvider struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Slug         string            `gorm:"type:text;not null;uniqueIndex:ux_service_providers_slug" json:"slug"`
	ContactEmail string            `gorm:"type:text;column:contact_email" json:"contact_email"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ServiceProvider) TableName() string { return "service_providers" }

// ProviderMember represents a user allowed to act for a provider.
type ProviderMember struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ProviderID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_provider_user,priority:1" json:"provider_id"`
	UserID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_provider_user,priority:2" json:"user_id"`
	Role       string       `gorm:"type:text;not null" json:"role"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ProviderMember) TableName() string { return "provider_members" }
