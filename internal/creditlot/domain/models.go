// Package domain defines credit lots: discrete grants of prepaid minutes with
// an expiry date. Lots are the stock the allocation engine draws down, oldest
// expiry first. Rows are never deleted; exhausted and expired lots stay for
// reconciliation.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusExhausted = "exhausted"
	StatusExpired   = "expired"
)

// CreditLot is one grant of minutes. OrderID is set for purchased lots and
// nil for manual grants and subscription renewals keyed elsewhere.
type CreditLot struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID  `gorm:"not null;index" json:"org_id"`
	ProviderID       snowflake.ID  `gorm:"not null;index" json:"provider_id"`
	OrderID          *snowflake.ID `gorm:"column:order_id;uniqueIndex:ux_credit_lots_order" json:"order_id,omitempty"`
	MinutesPurchased int64         `gorm:"column:minutes_purchased;not null" json:"minutes_purchased"`
	MinutesRemaining int64         `gorm:"column:minutes_remaining;not null" json:"minutes_remaining"`
	Status           string        `gorm:"type:text;not null;index" json:"status"`
	PurchasedAt      time.Time     `gorm:"column:purchased_at;not null" json:"purchased_at"`
	ExpiresAt        time.Time     `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditLot) TableName() string { return "credit_lots" }

type CreateLotRequest struct {
	OrgID      snowflake.ID
	ProviderID snowflake.ID
	OrderID    *snowflake.ID
	Minutes    int64
	ExpiresAt  time.Time
}

type Repository interface {
	// Insert creates the lot. When OrderID is set the insert is keyed
	// ON CONFLICT (order_id) DO NOTHING; false means the order already has
	// its lot.
	Insert(ctx context.Context, db *gorm.DB, lot *CreditLot) (bool, error)
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CreditLot, error)
	GetByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*CreditLot, error)
	// ActiveLots returns active lots not yet past expiry, ordered by
	// expires_at ASC then id ASC. Allocation depends on this ordering.
	ActiveLots(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, now time.Time) ([]CreditLot, error)
	// Decrement atomically draws minutes from a lot, flipping it to exhausted
	// when it hits zero. False means the lot changed underneath the caller.
	Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, minutes int64) (bool, error)
	// DueForExpiry returns active lots whose expiry has passed.
	DueForExpiry(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]CreditLot, error)
	// MarkExpired transitions one lot active->expired only if its remaining
	// minutes still match what the caller read.
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedRemaining int64) (bool, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) ([]CreditLot, error)
}

type Service interface {
	// CreateLotTx inserts a lot inside the caller's transaction. Used by
	// fulfillment so the lot and its ledger credit commit together.
	CreateLotTx(ctx context.Context, tx *gorm.DB, req CreateLotRequest) (*CreditLot, bool, error)
	// GrantManual issues a lot without an order and posts the matching
	// manual_adjustment credit, atomically.
	GrantManual(ctx context.Context, req CreateLotRequest, notes string) (*CreditLot, error)
	ActiveLots(ctx context.Context, orgID, providerID snowflake.ID) ([]CreditLot, error)
	ListByOrg(ctx context.Context, orgID, providerID snowflake.ID) ([]CreditLot, error)
	// ExpireDue sweeps lots past expiry: each transition posts an
	// expiry_writeoff debit for the forfeited remainder. Idempotent; returns
	// the number of lots expired this pass.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidMinutes      = errors.New("invalid_minutes")
	ErrInvalidExpiry       = errors.New("invalid_expiry")
	ErrLotNotFound         = errors.New("lot_not_found")
)
