// Package domain contains the audit trail model and service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// AuditLog is an append-only record of a privileged or accounting-relevant
// action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"not null;index"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	TargetType string
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type Service interface {
	Record(ctx context.Context, orgID snowflake.ID, action, targetType, targetID string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
