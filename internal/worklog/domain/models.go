// Package domain defines work logs: hours a provider performed against an
// organization's credit. A work log and its lot allocations commit atomically
// and the row is immutable afterwards.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	CategoryDevelopment = "development"
	CategoryConsulting  = "consulting"
	CategoryTraining    = "training"
	CategorySupport     = "support"
	CategoryOther       = "other"
)

const (
	DescriptionMinLen = 5
	DescriptionMaxLen = 500
)

// WorkLog is one logged unit of performed work. DeficitMinutes is the part
// no lot could cover; over-allocation is allowed by policy, so the deficit
// is recorded instead of rejected.
type WorkLog struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index" json:"org_id"`
	ProviderID     snowflake.ID `gorm:"not null;index" json:"provider_id"`
	PerformedBy    snowflake.ID `gorm:"column:performed_by;not null;index" json:"performed_by"`
	PerformedAt    time.Time    `gorm:"column:performed_at;not null;index" json:"performed_at"`
	Category       string       `gorm:"type:text;not null" json:"category"`
	Description    string       `gorm:"type:text;not null" json:"description"`
	MinutesSpent   int64        `gorm:"column:minutes_spent;not null" json:"minutes_spent"`
	DeficitMinutes int64        `gorm:"column:deficit_minutes;not null;default:0" json:"deficit_minutes"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (WorkLog) TableName() string { return "work_logs" }

type CreateRequest struct {
	OrgID       snowflake.ID
	ProviderID  snowflake.ID
	PerformedBy snowflake.ID
	PerformedAt time.Time
	Category    string
	Description string
	Minutes     int64
}

type ListFilter struct {
	OrgID      snowflake.ID
	ProviderID snowflake.ID
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, workLog *WorkLog) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WorkLog, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]WorkLog, error)
}

type Service interface {
	// CreateAndAllocate inserts the work log, draws down active lots oldest
	// expiry first, and posts the debit ledger entry, all in one transaction.
	CreateAndAllocate(ctx context.Context, req CreateRequest) (*WorkLog, error)
	List(ctx context.Context, filter ListFilter) ([]WorkLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidPerformer    = errors.New("invalid_performer")
	ErrInvalidMinutes      = errors.New("invalid_minutes")
	ErrInvalidPerformedAt  = errors.New("invalid_performed_at")
	ErrInvalidCategory     = errors.New("invalid_category")
	ErrInvalidDescription  = errors.New("invalid_description")
)

// ValidCategory reports whether category is one of the known work categories.
func ValidCategory(category string) bool {
	switch category {
	case CategoryDevelopment, CategoryConsulting, CategoryTraining, CategorySupport, CategoryOther:
		return true
	}
	return false
}
