// Package domain models recurring bundle subscriptions. The billing provider
// owns the money side; this side grants a fresh credit lot each time a
// renewal invoice is paid, once per period.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
)

const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusPaused   = "paused"
)

// Subscription links an organization to a recurring bundle. ExternalRef is
// the billing provider's subscription id and is how renewal invoices find
// their way back here.
type Subscription struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID `gorm:"not null;index" json:"org_id"`
	ProviderID         snowflake.ID `gorm:"not null;index" json:"provider_id"`
	BundleID           snowflake.ID `gorm:"not null;index" json:"bundle_id"`
	ExternalRef        string       `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_external_ref" json:"external_ref"`
	Status             string       `gorm:"type:text;not null;index" json:"status"`
	CurrentPeriodStart time.Time    `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time    `gorm:"column:current_period_end;not null" json:"current_period_end"`
	CancelAtPeriodEnd  bool         `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type CreateRequest struct {
	OrgID       snowflake.ID
	ProviderID  snowflake.ID
	BundleID    string
	ExternalRef string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	GetByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*Subscription, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Subscription, error)
	// AdvancePeriod moves the subscription onto a new billing period and
	// reactivates it. Monotonic: only applies when the new period starts
	// after the current one.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) (bool, error)
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to string) (bool, error)
	SetCancelAtPeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, cancel bool) error
	// MarkPastDue flags active subscriptions whose period ended before the
	// cutoff without a renewal arriving.
	MarkPastDue(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	GetByID(ctx context.Context, orgID snowflake.ID, id string) (*Subscription, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]Subscription, error)
	// ProcessRenewal grants the period lot for a paid renewal invoice.
	// Idempotent per (subscription, period).
	ProcessRenewal(ctx context.Context, event *paymentdomain.PaymentEvent) error
	Cancel(ctx context.Context, orgID snowflake.ID, id string, atPeriodEnd bool) error
	// SweepPastDue runs the overdue-renewal check. Returns how many
	// subscriptions were newly flagged past_due this pass.
	SweepPastDue(ctx context.Context, now time.Time) (int, error)
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidBundle        = errors.New("invalid_bundle")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidOrganization  = errors.New("invalid_organization")
)
