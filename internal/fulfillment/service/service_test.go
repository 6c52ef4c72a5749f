package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	auditrepository "github.com/flowvane/creditdesk/internal/audit/repository"
	auditservice "github.com/flowvane/creditdesk/internal/audit/service"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	bundlerepository "github.com/flowvane/creditdesk/internal/bundle/repository"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	creditlotrepository "github.com/flowvane/creditdesk/internal/creditlot/repository"
	creditlotservice "github.com/flowvane/creditdesk/internal/creditlot/service"
	"github.com/flowvane/creditdesk/internal/events"
	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	invoicedomain "github.com/flowvane/creditdesk/internal/invoice/domain"
	invoicerepository "github.com/flowvane/creditdesk/internal/invoice/repository"
	invoiceservice "github.com/flowvane/creditdesk/internal/invoice/service"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	ledgerrepository "github.com/flowvane/creditdesk/internal/ledger/repository"
	ledgerservice "github.com/flowvane/creditdesk/internal/ledger/service"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	orderrepository "github.com/flowvane/creditdesk/internal/order/repository"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	"github.com/flowvane/creditdesk/internal/providers/pdf"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	orderRepo  orderdomain.Repository
	bundleRepo bundledomain.Repository
	svc        fulfillmentdomain.Service
	orgID      snowflake.ID
	providerID snowflake.ID
	bundleID   snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&orderdomain.Order{},
		&bundledomain.CreditBundle{},
		&creditlotdomain.CreditLot{},
		&ledgerdomain.LedgerEntry{},
		&invoicedomain.Invoice{},
		&auditdomain.AuditLog{},
		&events.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(node)
	policy := config.NewStaticCreditPolicyHolder(config.CreditPolicy{
		LotRetentionMonths:   24,
		ExpiringSoonDays:     30,
		PacingWarningPercent: 75,
	})

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     ledgerrepository.NewRepository(),
		AuditSvc: auditSvc,
	})
	lotSvc := creditlotservice.NewService(creditlotservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  fake,
		Repo:   creditlotrepository.NewRepository(),
		Ledger: ledgerSvc,
		Outbox: outbox,
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  invoicerepository.NewRepository(),
		PDF:   pdf.NewMarotoProvider(),
	})

	orderRepo := orderrepository.NewRepository(db)
	bundleRepo := bundlerepository.NewRepository(db)
	svc := NewService(Params{
		DB:         db,
		Log:        log,
		Policy:     policy,
		OrderRepo:  orderRepo,
		BundleRepo: bundleRepo,
		LotSvc:     lotSvc,
		LedgerSvc:  ledgerSvc,
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
		Outbox:     outbox,
	})

	f := &fixture{
		db:         db,
		node:       node,
		clock:      fake,
		orderRepo:  orderRepo,
		bundleRepo: bundleRepo,
		svc:        svc,
		orgID:      node.Generate(),
		providerID: node.Generate(),
	}
	f.bundleID = f.seedBundle(t)
	return f
}

func (f *fixture) seedBundle(t *testing.T) snowflake.ID {
	t.Helper()
	bundle := bundledomain.CreditBundle{
		ID:          f.node.Generate(),
		ProviderID:  f.providerID,
		Name:        "Starter 10",
		Slug:        "starter-10",
		Hours:       10,
		PriceCents:  120_000,
		Currency:    "USD",
		BillingType: bundledomain.BillingTypeOneTime,
		IsActive:    true,
	}
	if err := f.db.Create(&bundle).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	return bundle.ID
}

func (f *fixture) seedPendingOrder(t *testing.T, sessionID string) *orderdomain.Order {
	t.Helper()
	order := orderdomain.Order{
		ID:                f.node.Generate(),
		OrgID:             f.orgID,
		ProviderID:        f.providerID,
		BundleID:          f.bundleID,
		Minutes:           600,
		AmountCents:       120_000,
		Currency:          "USD",
		Status:            orderdomain.StatusPending,
		CheckoutSessionID: sessionID,
		CreatedAt:         f.clock.Now(),
	}
	if err := f.orderRepo.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func (f *fixture) completedEvent(order *orderdomain.Order) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_1",
		Type:              paymentdomain.EventTypeCheckoutCompleted,
		OrderID:           order.ID,
		CheckoutSessionID: order.CheckoutSessionID,
		PaymentIntentRef:  "pi_1",
		ReceiptRef:        "https://pay.example.com/receipts/1",
		AmountCents:       order.AmountCents,
		Currency:          order.Currency,
		OccurredAt:        f.clock.Now(),
	}
}

func (f *fixture) countRows(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestCheckoutCompletedGrantsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, "cs_1")
	event := f.completedEvent(order)

	if err := f.svc.ProcessPaymentEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	stored, err := f.orderRepo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("want paid order, got %s", stored.Status)
	}
	if stored.PaidAt == nil {
		t.Fatalf("paid_at must be stamped")
	}

	var lot creditlotdomain.CreditLot
	if err := f.db.First(&lot, "order_id = ?", order.ID).Error; err != nil {
		t.Fatalf("load lot: %v", err)
	}
	if lot.MinutesRemaining != 600 {
		t.Fatalf("want a 600 minute lot, got %d", lot.MinutesRemaining)
	}
	wantExpiry := f.clock.Now().UTC().AddDate(0, 24, 0)
	if !lot.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("want expiry %v, got %v", wantExpiry, lot.ExpiresAt)
	}

	var invoice invoicedomain.Invoice
	if err := f.db.First(&invoice, "order_id = ?", order.ID).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if invoice.ReceiptRef != event.ReceiptRef {
		t.Fatalf("receipt ref not carried, got %q", invoice.ReceiptRef)
	}

	// Deliver the same event twice more.
	for i := 0; i < 2; i++ {
		if err := f.svc.ProcessPaymentEvent(ctx, event); err != nil {
			t.Fatalf("re-delivery %d: %v", i, err)
		}
	}

	if n := f.countRows(t, &creditlotdomain.CreditLot{}, "order_id = ?", order.ID); n != 1 {
		t.Fatalf("want exactly one lot, got %d", n)
	}
	if n := f.countRows(t, &ledgerdomain.LedgerEntry{}, "org_id = ? AND reason_code = ?", f.orgID, ledgerdomain.ReasonPurchase); n != 1 {
		t.Fatalf("want exactly one purchase credit, got %d", n)
	}
	if n := f.countRows(t, &invoicedomain.Invoice{}, "order_id = ?", order.ID); n != 1 {
		t.Fatalf("want exactly one invoice, got %d", n)
	}
}

func TestCheckoutCompletedBackfillsReceiptOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, "cs_1")

	first := f.completedEvent(order)
	first.ReceiptRef = ""
	if err := f.svc.ProcessPaymentEvent(ctx, first); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	second := f.completedEvent(order)
	second.ReceiptRef = "https://pay.example.com/receipts/late"
	if err := f.svc.ProcessPaymentEvent(ctx, second); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	var invoice invoicedomain.Invoice
	if err := f.db.First(&invoice, "order_id = ?", order.ID).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if invoice.ReceiptRef != second.ReceiptRef {
		t.Fatalf("late receipt not backfilled, got %q", invoice.ReceiptRef)
	}
}

func TestCheckoutCompletedFindsOrderBySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, "cs_lookup")

	event := f.completedEvent(order)
	event.OrderID = 0 // provider dropped the metadata

	if err := f.svc.ProcessPaymentEvent(ctx, event); err != nil {
		t.Fatalf("process: %v", err)
	}
	stored, err := f.orderRepo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("want paid, got %s", stored.Status)
	}
}

func TestCheckoutCompletedUnknownOrder(t *testing.T) {
	f := newFixture(t)

	event := &paymentdomain.PaymentEvent{
		Type:              paymentdomain.EventTypeCheckoutCompleted,
		CheckoutSessionID: "cs_ghost",
		OccurredAt:        f.clock.Now(),
	}
	err := f.svc.ProcessPaymentEvent(context.Background(), event)
	if err != fulfillmentdomain.ErrOrderNotFound {
		t.Fatalf("want ErrOrderNotFound, got %v", err)
	}
}

func TestCheckoutExpiredCancelsPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.seedPendingOrder(t, "cs_pending")
	paid := f.seedPendingOrder(t, "cs_paid")
	if err := f.svc.ProcessPaymentEvent(ctx, f.completedEvent(paid)); err != nil {
		t.Fatalf("pay order: %v", err)
	}

	for _, order := range []*orderdomain.Order{pending, paid} {
		err := f.svc.ProcessPaymentEvent(ctx, &paymentdomain.PaymentEvent{
			Type:              paymentdomain.EventTypeCheckoutExpired,
			OrderID:           order.ID,
			CheckoutSessionID: order.CheckoutSessionID,
			OccurredAt:        f.clock.Now(),
		})
		if err != nil {
			t.Fatalf("expire %s: %v", order.CheckoutSessionID, err)
		}
	}

	stored, err := f.orderRepo.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if stored.Status != orderdomain.StatusCancelled {
		t.Fatalf("pending order should cancel, got %s", stored.Status)
	}

	stored, err = f.orderRepo.Get(ctx, paid.ID)
	if err != nil {
		t.Fatalf("load paid: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("a paid order never flips to cancelled, got %s", stored.Status)
	}
}

func TestReconcileRepairsPaidOrderWithoutLot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, "cs_crash")

	// Simulate a crash between the status flip and the grant: the order is
	// paid but no lot exists.
	paidAt := f.clock.Now().UTC()
	swapped, err := f.orderRepo.CompareAndSwapStatus(ctx, order.ID, orderdomain.StatusTransition{
		From:   orderdomain.StatusPending,
		To:     orderdomain.StatusPaid,
		PaidAt: &paidAt,
	})
	if err != nil || !swapped {
		t.Fatalf("flip: swapped=%v err=%v", swapped, err)
	}

	repaired, err := f.svc.ReconcilePaid(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("want 1 repaired order, got %d", repaired)
	}

	if n := f.countRows(t, &creditlotdomain.CreditLot{}, "order_id = ?", order.ID); n != 1 {
		t.Fatalf("want the missing lot granted, got %d", n)
	}
	if n := f.countRows(t, &ledgerdomain.LedgerEntry{}, "org_id = ? AND reason_code = ?", f.orgID, ledgerdomain.ReasonPurchase); n != 1 {
		t.Fatalf("want one purchase credit, got %d", n)
	}

	// A clean state reconciles to zero.
	repaired, err = f.svc.ReconcilePaid(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if repaired != 0 {
		t.Fatalf("nothing left to repair, got %d", repaired)
	}
}

func TestProcessPaymentEventRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ProcessPaymentEvent(context.Background(), &paymentdomain.PaymentEvent{Type: "refund_issued"})
	if err != fulfillmentdomain.ErrInvalidEvent {
		t.Fatalf("want ErrInvalidEvent, got %v", err)
	}
	if err := f.svc.ProcessPaymentEvent(context.Background(), nil); err != fulfillmentdomain.ErrInvalidEvent {
		t.Fatalf("nil event: want ErrInvalidEvent, got %v", err)
	}
}
