// Package domain defines invoices for credit purchases. One invoice per
// order, keyed unique by order_id: webhook re-delivery and later receipt
// enrichment update the same row instead of creating another.
package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusPaid     = "paid"
	StatusRefunded = "refunded"
)

type Invoice struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"org_id"`
	ProviderID  snowflake.ID `gorm:"not null;index" json:"provider_id"`
	OrderID     snowflake.ID `gorm:"column:order_id;not null;uniqueIndex:ux_invoices_order" json:"order_id"`
	Number      string       `gorm:"type:text;not null" json:"number"`
	AmountCents int64        `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string       `gorm:"type:text;not null" json:"currency"`
	Status      string       `gorm:"type:text;not null" json:"status"`
	ReceiptRef  string       `gorm:"type:text;column:receipt_ref" json:"receipt_ref,omitempty"`
	IssuedAt    time.Time    `gorm:"column:issued_at;not null" json:"issued_at"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

type UpsertRequest struct {
	OrgID       snowflake.ID
	ProviderID  snowflake.ID
	OrderID     snowflake.ID
	AmountCents int64
	Currency    string
	ReceiptRef  string
	IssuedAt    time.Time
}

type Repository interface {
	// Upsert inserts keyed by order_id; on conflict it backfills the receipt
	// reference when one arrives and leaves everything else untouched.
	Upsert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	GetByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Invoice, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]Invoice, error)
}

type Service interface {
	// UpsertForOrderTx records the invoice inside the caller's transaction.
	UpsertForOrderTx(ctx context.Context, tx *gorm.DB, req UpsertRequest) error
	// AttachReceipt backfills the receipt reference on an existing invoice.
	AttachReceipt(ctx context.Context, orderID snowflake.ID, receiptRef string) error
	GetByOrder(ctx context.Context, orgID, orderID snowflake.ID) (*Invoice, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]Invoice, error)
	// RenderReceipt produces the printable PDF for a paid invoice.
	RenderReceipt(ctx context.Context, orgID, orderID snowflake.ID) (io.Reader, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
)
