// Package domain defines the credit ledger: the append-only journal of every
// minute that enters or leaves an organization's balance. Entries are never
// updated or deleted; corrections are new entries.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EntryType tags the direction of a posting.
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// ReasonCode explains why minutes moved.
type ReasonCode string

const (
	ReasonPurchase         ReasonCode = "purchase"          // paid order fulfilled
	ReasonWorkLogged       ReasonCode = "work_logged"       // provider logged hours
	ReasonManualAdjustment ReasonCode = "manual_adjustment" // operator correction
	ReasonExpiryWriteoff   ReasonCode = "expiry_writeoff"   // lot passed its expiry
)

// LedgerEntry is one immutable posting. MinutesDelta is signed: positive for
// credits, negative for debits.
type LedgerEntry struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_ledger_dedupe,priority:1" json:"org_id"`
	ProviderID       snowflake.ID  `gorm:"not null;index" json:"provider_id"`
	EntryType        EntryType     `gorm:"type:text;not null" json:"entry_type"`
	MinutesDelta     int64         `gorm:"column:minutes_delta;not null" json:"minutes_delta"`
	ReasonCode       ReasonCode    `gorm:"type:text;not null;index;uniqueIndex:ux_ledger_dedupe,priority:2" json:"reason_code"`
	DedupeKey        string        `gorm:"type:text;not null;uniqueIndex:ux_ledger_dedupe,priority:3" json:"-"`
	RelatedOrderID   *snowflake.ID `gorm:"column:related_order_id;index" json:"related_order_id,omitempty"`
	RelatedLotID     *snowflake.ID `gorm:"column:related_lot_id;index" json:"related_lot_id,omitempty"`
	RelatedWorkLogID *snowflake.ID `gorm:"column:related_work_log_id;index" json:"related_work_log_id,omitempty"`
	ActorType        string        `gorm:"type:text;not null" json:"actor_type"`
	Notes            string        `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "credit_ledger_entries" }

// AppendRequest describes one posting to record. DedupeKey makes the append
// idempotent within (org, reason): re-delivery inserts nothing.
type AppendRequest struct {
	OrgID            snowflake.ID
	ProviderID       snowflake.ID
	EntryType        EntryType
	MinutesDelta     int64
	ReasonCode       ReasonCode
	DedupeKey        string
	RelatedOrderID   *snowflake.ID
	RelatedLotID     *snowflake.ID
	RelatedWorkLogID *snowflake.ID
	Notes            string
}

type ListFilter struct {
	OrgID      snowflake.ID
	ProviderID snowflake.ID
	ReasonCode ReasonCode
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
	Cursor     string
}

type Repository interface {
	// Insert appends within the caller's transaction. Returns false when the
	// dedupe key already exists.
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]LedgerEntry, error)
	SignedSum(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) (int64, error)
}

type Service interface {
	// AppendTx validates and appends inside an existing transaction so callers
	// can make the posting atomic with their own writes.
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (bool, error)
	// Append runs AppendTx in its own transaction and records an audit event.
	Append(ctx context.Context, req AppendRequest) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]LedgerEntry, string, error)
	// SignedSum returns the net minutes over all entries in scope. Used by the
	// reconciliation job to cross-check lot remainders.
	SignedSum(ctx context.Context, orgID, providerID snowflake.ID) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidReasonCode   = errors.New("invalid_reason_code")
	ErrInvalidDelta        = errors.New("invalid_minutes_delta")
	ErrInvalidDedupeKey    = errors.New("invalid_dedupe_key")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)

// ValidateDirection enforces that the sign of the delta matches the entry
// type. Zero deltas are rejected so the journal never carries no-op rows.
func ValidateDirection(entryType EntryType, delta int64) error {
	switch entryType {
	case EntryTypeCredit:
		if delta <= 0 {
			return ErrInvalidDelta
		}
	case EntryTypeDebit:
		if delta >= 0 {
			return ErrInvalidDelta
		}
	default:
		return ErrInvalidEntryType
	}
	return nil
}

// ValidReason reports whether code is one of the known reason codes.
func ValidReason(code ReasonCode) bool {
	switch code {
	case ReasonPurchase, ReasonWorkLogged, ReasonManualAdjustment, ReasonExpiryWriteoff:
		return true
	}
	return false
}
