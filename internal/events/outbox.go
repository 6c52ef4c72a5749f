// Package events implements a transactional outbox: domain services emit
// events inside their own transaction, and a dispatcher drains them to
// best-effort consumers (notifications). The core never waits on delivery.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventLotCreated      = "credit_lot_created"
	EventWorkLogged      = "work_logged"
	EventOrderPaid       = "order_paid"
	EventLotExpired      = "credit_lot_expired"
	EventPacingExceeded  = "pacing_exceeded"
	EventInviteCreated   = "invite_created"
	EventRenewalGranted  = "subscription_renewal_granted"
	statusPending        = "pending"
	statusDispatched     = "dispatched"
	dispatcherBatchLimit = 100
)

// Event is what producers emit.
type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// OutboxEvent is the persisted row.
type OutboxEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	OrgID        snowflake.ID      `gorm:"not null;index"`
	EventType    string            `gorm:"type:text;not null"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	DedupeKey    string            `gorm:"type:text;not null;uniqueIndex:ux_outbox_dedupe"`
	Status       string            `gorm:"type:text;not null;default:'pending';index"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DispatchedAt *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

// PublishTx inserts the event within the caller's transaction. A duplicate
// dedupe key is treated as already published.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	dedupe := event.DedupeKey
	if dedupe == "" {
		dedupe = ulid.Make().String()
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, org_id, event_type, payload, dedupe_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.OrgID,
		event.Type,
		datatypes.JSONMap(event.Payload),
		dedupe,
		statusPending,
		time.Now().UTC(),
	).Error
}

// Handler consumes a dispatched event. Errors are logged, not retried
// forever: the event stays pending for the next dispatcher pass.
type Handler interface {
	Handle(ctx context.Context, event OutboxEvent) error
}

// Dispatcher drains pending outbox rows to a handler.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	handler Handler
}

func NewDispatcher(db *gorm.DB, log *zap.Logger, handler Handler) *Dispatcher {
	return &Dispatcher{db: db, log: log.Named("events.dispatcher"), handler: handler}
}

// Dispatch processes one batch of pending events and returns how many were
// delivered. A handler failure leaves the row pending and moves on.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	var pending []OutboxEvent
	if err := d.db.WithContext(ctx).
		Where("status = ?", statusPending).
		Order("created_at ASC").
		Limit(dispatcherBatchLimit).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range pending {
		if d.handler != nil {
			if err := d.handler.Handle(ctx, event); err != nil {
				d.log.Warn("outbox handler failed",
					zap.String("event_type", event.EventType),
					zap.String("dedupe_key", event.DedupeKey),
					zap.Error(err),
				)
				continue
			}
		}

		now := time.Now().UTC()
		result := d.db.WithContext(ctx).Exec(
			`UPDATE outbox_events SET status = ?, dispatched_at = ? WHERE id = ? AND status = ?`,
			statusDispatched, now, event.ID, statusPending,
		)
		if result.Error != nil {
			return delivered, result.Error
		}
		if result.RowsAffected > 0 {
			delivered++
		}
	}
	return delivered, nil
}

// PayloadString extracts a string field from the event payload.
func (e OutboxEvent) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	switch v := e.Payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(NewDispatcher),
)
