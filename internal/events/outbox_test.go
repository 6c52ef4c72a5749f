package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Outbox, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return db, NewOutbox(node), node
}

type recordingHandler struct {
	seen   []string
	failOn string
}

func (h *recordingHandler) Handle(_ context.Context, event OutboxEvent) error {
	if h.failOn != "" && event.DedupeKey == h.failOn {
		return errors.New("downstream unavailable")
	}
	h.seen = append(h.seen, event.DedupeKey)
	return nil
}

func TestPublishTxDeduplicates(t *testing.T) {
	db, outbox, node := setup(t)
	ctx := context.Background()
	orgID := node.Generate()

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return outbox.PublishTx(ctx, tx, Event{
				OrgID:     orgID,
				Type:      EventOrderPaid,
				Payload:   map[string]any{"order_id": "1"},
				DedupeKey: "order_paid:1",
			})
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&OutboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("want one row for the duplicate key, got %d", count)
	}
}

func TestPublishTxRollsBackWithCaller(t *testing.T) {
	db, outbox, node := setup(t)
	ctx := context.Background()
	abort := errors.New("abort")

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(ctx, tx, Event{
			OrgID:     node.Generate(),
			Type:      EventLotCreated,
			DedupeKey: "lot_created:99",
		}); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("want the abort error, got %v", err)
	}

	var count int64
	if err := db.Model(&OutboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("a rolled back publish must leave nothing, got %d rows", count)
	}
}

func TestDispatcherDeliversAndMarks(t *testing.T) {
	db, outbox, node := setup(t)
	ctx := context.Background()
	orgID := node.Generate()

	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return outbox.PublishTx(ctx, tx, Event{
				OrgID:     orgID,
				Type:      EventWorkLogged,
				DedupeKey: fmt.Sprintf("work_logged:%d", i),
			})
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	handler := &recordingHandler{}
	dispatcher := NewDispatcher(db, zap.NewNop(), handler)

	delivered, err := dispatcher.Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 3 {
		t.Fatalf("want 3 delivered, got %d", delivered)
	}
	if len(handler.seen) != 3 {
		t.Fatalf("handler saw %d events", len(handler.seen))
	}

	// Everything is dispatched; a second pass is a no-op.
	delivered, err = dispatcher.Dispatch(ctx)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("want nothing left, got %d", delivered)
	}
}

func TestDispatcherLeavesFailedEventPending(t *testing.T) {
	db, outbox, node := setup(t)
	ctx := context.Background()
	orgID := node.Generate()

	for _, key := range []string{"a", "b"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			return outbox.PublishTx(ctx, tx, Event{OrgID: orgID, Type: EventLotExpired, DedupeKey: key})
		})
		if err != nil {
			t.Fatalf("publish %s: %v", key, err)
		}
	}

	handler := &recordingHandler{failOn: "a"}
	dispatcher := NewDispatcher(db, zap.NewNop(), handler)

	delivered, err := dispatcher.Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("only the healthy event delivers, got %d", delivered)
	}

	// The failed event retries on the next pass.
	handler.failOn = ""
	delivered, err = dispatcher.Dispatch(ctx)
	if err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("want the failed event redelivered, got %d", delivered)
	}
}

func TestPayloadString(t *testing.T) {
	event := OutboxEvent{Payload: map[string]any{
		"name":    "starter",
		"minutes": float64(600),
		"count":   42,
	}}
	if got := event.PayloadString("name"); got != "starter" {
		t.Fatalf("string field: got %q", got)
	}
	if got := event.PayloadString("minutes"); got != "600" {
		t.Fatalf("float field: got %q", got)
	}
	if got := event.PayloadString("count"); got != "42" {
		t.Fatalf("int field: got %q", got)
	}
	if got := event.PayloadString("missing"); got != "" {
		t.Fatalf("missing field: got %q", got)
	}
}
