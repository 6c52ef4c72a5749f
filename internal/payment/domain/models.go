// Package domain defines the billing-provider boundary: canonical payment
// events parsed out of provider webhooks, and the adapter contracts each
// provider implements. Everything downstream (fulfillment, renewals) consumes
// the canonical event, never the raw provider payload.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventTypeCheckoutCompleted = "checkout_completed"
	EventTypeCheckoutExpired   = "checkout_expired"
	EventTypeInvoicePaid       = "invoice_paid"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidConfig    = errors.New("invalid_config")
	// ErrEventIgnored marks event types the adapter knows about but the
	// system does not act on. Ingest treats it as success.
	ErrEventIgnored = errors.New("event_ignored")
)

// PaymentEvent is the canonical event parsed by adapters. OrderID comes from
// the checkout metadata the order service stamped at session creation; it is
// zero when the provider dropped the metadata, in which case fulfillment
// falls back to the checkout session reference.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	Type              string
	OrderID           snowflake.ID
	CheckoutSessionID string
	PaymentIntentRef  string
	SubscriptionRef   string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	ReceiptRef        string
	AmountCents       int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

// EventRecord is the persisted webhook delivery. The unique
// (provider, provider_event_id) pair is what makes re-deliveries harmless.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	OrderID         snowflake.ID   `json:"order_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter verifies and parses one provider's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service ingests provider webhooks: verify, persist, route, mark processed.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type Repository interface {
	// InsertEvent stores the delivery ON CONFLICT DO NOTHING; false means
	// this provider event was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
