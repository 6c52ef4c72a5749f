// Package domain contains the purchase order model. An order is the bridge
// between a checkout on the payment provider and the credit lot it funds:
// credit is only granted when the order transitions to paid, exactly once.
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
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Order is a purchase of one credit bundle by an organization.
type Order struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID      `gorm:"not null;index" json:"org_id"`
	ProviderID        snowflake.ID      `gorm:"not null;index" json:"provider_id"`
	BundleID          snowflake.ID      `gorm:"not null;index" json:"bundle_id"`
	Minutes           int64             `gorm:"not null" json:"minutes"`
	AmountCents       int64             `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency          string            `gorm:"type:text;not null" json:"currency"`
	Status            string            `gorm:"type:text;not null;index" json:"status"`
	CheckoutSessionID string            `gorm:"type:text;column:checkout_session_id;index" json:"checkout_session_id"`
	PaymentIntentRef  string            `gorm:"type:text;column:payment_intent_ref" json:"payment_intent_ref"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	PaidAt            *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

type StatusTransition struct {
	From              string
	To                string
	CheckoutSessionID string
	PaymentIntentRef  string
	PaidAt            *time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	GetByCheckoutSession(ctx context.Context, sessionID string) (*Order, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]Order, error)
	// CompareAndSwapStatus transitions the order only when it still has the
	// expected status. Returns false when another writer got there first.
	CompareAndSwapStatus(ctx context.Context, id snowflake.ID, transition StatusTransition) (bool, error)
}

type Service interface {
	CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*OrderResponse, error)
	GetByID(ctx context.Context, orgID snowflake.ID, id string) (*OrderResponse, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]OrderResponse, error)
}

type CreateCheckoutRequest struct {
	OrgID    snowflake.ID
	BundleID string
}

type OrderResponse struct {
	ID                string     `json:"id"`
	OrgID             string     `json:"org_id"`
	ProviderID        string     `json:"provider_id"`
	BundleID          string     `json:"bundle_id"`
	Minutes           int64      `json:"minutes"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	AmountDisplay     string     `json:"amount_display"`
	Status            string     `json:"status"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrOrderNotFound       = errors.New("order_not_found")
)
