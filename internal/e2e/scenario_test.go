// Package e2e exercises the credit lifecycle end to end over an in-memory
// database: purchase, fulfillment, work allocation, duplicate webhook
// delivery and expiry write-off.
package e2e

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
	balancedomain "github.com/flowvane/creditdesk/internal/balance/domain"
	balancerepository "github.com/flowvane/creditdesk/internal/balance/repository"
	balanceservice "github.com/flowvane/creditdesk/internal/balance/service"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	bundlerepository "github.com/flowvane/creditdesk/internal/bundle/repository"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	creditlotrepository "github.com/flowvane/creditdesk/internal/creditlot/repository"
	creditlotservice "github.com/flowvane/creditdesk/internal/creditlot/service"
	"github.com/flowvane/creditdesk/internal/events"
	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	fulfillmentservice "github.com/flowvane/creditdesk/internal/fulfillment/service"
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
	worklogdomain "github.com/flowvane/creditdesk/internal/worklog/domain"
	worklogrepository "github.com/flowvane/creditdesk/internal/worklog/repository"
	worklogservice "github.com/flowvane/creditdesk/internal/worklog/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type world struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	orderRepo   orderdomain.Repository
	fulfillment fulfillmentdomain.Service
	workLogs    worklogdomain.Service
	balances    balancedomain.Service
	lots        creditlotdomain.Service
	ledger      ledgerdomain.Service
	orgID       snowflake.ID
	providerID  snowflake.ID
	userID      snowflake.ID
	bundleID    snowflake.ID
}

func newWorld(t *testing.T) *world {
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
		&worklogdomain.WorkLog{},
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
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
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
	lotRepo := creditlotrepository.NewRepository()
	lotSvc := creditlotservice.NewService(creditlotservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  fake,
		Repo:   lotRepo,
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
	fulfillmentSvc := fulfillmentservice.NewService(fulfillmentservice.Params{
		DB:         db,
		Log:        log,
		Policy:     policy,
		OrderRepo:  orderRepo,
		BundleRepo: bundlerepository.NewRepository(db),
		LotSvc:     lotSvc,
		LedgerSvc:  ledgerSvc,
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
		Outbox:     outbox,
	})
	workLogSvc := worklogservice.NewService(worklogservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  fake,
		Repo:   worklogrepository.NewRepository(),
		Lots:   lotRepo,
		LotSvc: lotSvc,
		Ledger: ledgerSvc,
		Outbox: outbox,
	})
	balanceSvc := balanceservice.NewService(balanceservice.Params{
		DB:     db,
		Log:    log,
		Clock:  fake,
		Repo:   balancerepository.NewRepository(),
		Lots:   lotSvc,
		Policy: policy,
	})

	w := &world{
		db:          db,
		node:        node,
		clock:       fake,
		orderRepo:   orderRepo,
		fulfillment: fulfillmentSvc,
		workLogs:    workLogSvc,
		balances:    balanceSvc,
		lots:        lotSvc,
		ledger:      ledgerSvc,
		orgID:       node.Generate(),
		providerID:  node.Generate(),
		userID:      node.Generate(),
	}

	bundle := bundledomain.CreditBundle{
		ID:          node.Generate(),
		ProviderID:  w.providerID,
		Name:        "Starter 10",
		Slug:        "starter-10",
		Hours:       10,
		PriceCents:  120_000,
		Currency:    "USD",
		BillingType: bundledomain.BillingTypeOneTime,
		IsActive:    true,
	}
	if err := db.Create(&bundle).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	w.bundleID = bundle.ID
	return w
}

func (w *world) checkBalance(t *testing.T, wantTotal, wantUsed, wantAvailable, wantWrittenOff int64) {
	t.Helper()
	balance, err := w.balances.GetBalance(context.Background(), w.orgID, w.providerID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.TotalMinutes != wantTotal ||
		balance.UsedMinutes != wantUsed ||
		balance.AvailableMinutes != wantAvailable ||
		balance.WrittenOffMinutes != wantWrittenOff {
		t.Fatalf("balance mismatch: want total=%d used=%d available=%d writtenOff=%d, got %+v",
			wantTotal, wantUsed, wantAvailable, wantWrittenOff, balance)
	}
	if balance.UsedMinutes+balance.AvailableMinutes+balance.WrittenOffMinutes != balance.TotalMinutes {
		t.Fatalf("balance identity broken: %+v", balance)
	}

	sum, err := w.ledger.SignedSum(context.Background(), w.orgID, w.providerID)
	if err != nil {
		t.Fatalf("signed sum: %v", err)
	}
	if sum != balance.AvailableMinutes {
		t.Fatalf("ledger sum %d disagrees with available %d", sum, balance.AvailableMinutes)
	}
}

func TestCreditLifecycle(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	// An organization buys the 10 hour bundle and the provider confirms the
	// checkout.
	order := orderdomain.Order{
		ID:                w.node.Generate(),
		OrgID:             w.orgID,
		ProviderID:        w.providerID,
		BundleID:          w.bundleID,
		Minutes:           600,
		AmountCents:       120_000,
		Currency:          "USD",
		Status:            orderdomain.StatusPending,
		CheckoutSessionID: "cs_lifecycle",
		CreatedAt:         w.clock.Now(),
	}
	if err := w.orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	event := &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_lifecycle",
		Type:              paymentdomain.EventTypeCheckoutCompleted,
		OrderID:           order.ID,
		CheckoutSessionID: order.CheckoutSessionID,
		ReceiptRef:        "https://pay.example.com/receipts/lifecycle",
		AmountCents:       order.AmountCents,
		Currency:          order.Currency,
		OccurredAt:        w.clock.Now(),
	}
	if err := w.fulfillment.ProcessPaymentEvent(ctx, event); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	w.checkBalance(t, 600, 0, 600, 0)

	// The provider logs five hours of work.
	w.clock.Advance(24 * time.Hour)
	workLog, err := w.workLogs.CreateAndAllocate(ctx, worklogdomain.CreateRequest{
		OrgID:       w.orgID,
		ProviderID:  w.providerID,
		PerformedBy: w.userID,
		PerformedAt: w.clock.Now().Add(-2 * time.Hour),
		Category:    worklogdomain.CategoryDevelopment,
		Description: "built the onboarding flow",
		Minutes:     300,
	})
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
	if workLog.DeficitMinutes != 0 {
		t.Fatalf("covered work carries no deficit, got %d", workLog.DeficitMinutes)
	}
	w.checkBalance(t, 600, 300, 300, 0)

	// The payment provider re-delivers the checkout event. Nothing moves.
	if err := w.fulfillment.ProcessPaymentEvent(ctx, event); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	w.checkBalance(t, 600, 300, 300, 0)

	// The retention window lapses and the remainder is written off.
	w.clock.Advance(25 * 31 * 24 * time.Hour)
	expired, err := w.lots.ExpireDue(ctx, w.clock.Now())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("want the purchase lot expired, got %d", expired)
	}
	w.checkBalance(t, 600, 300, 0, 300)

	// Work after expiry runs on deficit, never on expired minutes.
	late, err := w.workLogs.CreateAndAllocate(ctx, worklogdomain.CreateRequest{
		OrgID:       w.orgID,
		ProviderID:  w.providerID,
		PerformedBy: w.userID,
		PerformedAt: w.clock.Now().Add(-time.Hour),
		Category:    worklogdomain.CategorySupport,
		Description: "incident follow-up call",
		Minutes:     60,
	})
	if err != nil {
		t.Fatalf("late work: %v", err)
	}
	if late.DeficitMinutes != 60 {
		t.Fatalf("want all 60 minutes in deficit, got %d", late.DeficitMinutes)
	}
}

func TestReconcileClosesCrashWindow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	order := orderdomain.Order{
		ID:          w.node.Generate(),
		OrgID:       w.orgID,
		ProviderID:  w.providerID,
		BundleID:    w.bundleID,
		Minutes:     600,
		AmountCents: 120_000,
		Currency:    "USD",
		Status:      orderdomain.StatusPending,
		CreatedAt:   w.clock.Now(),
	}
	if err := w.orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// The status flip landed but the grant never ran.
	paidAt := w.clock.Now().UTC()
	swapped, err := w.orderRepo.CompareAndSwapStatus(ctx, order.ID, orderdomain.StatusTransition{
		From:   orderdomain.StatusPending,
		To:     orderdomain.StatusPaid,
		PaidAt: &paidAt,
	})
	if err != nil || !swapped {
		t.Fatalf("flip: swapped=%v err=%v", swapped, err)
	}
	w.checkBalance(t, 0, 0, 0, 0)

	repaired, err := w.fulfillment.ReconcilePaid(ctx, w.clock.Now())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("want 1 repaired order, got %d", repaired)
	}
	w.checkBalance(t, 600, 0, 600, 0)
}
