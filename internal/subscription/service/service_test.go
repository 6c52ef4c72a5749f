package service

import (
	"context"
	"errors"
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
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	creditlotrepository "github.com/flowvane/creditdesk/internal/creditlot/repository"
	creditlotservice "github.com/flowvane/creditdesk/internal/creditlot/service"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	ledgerrepository "github.com/flowvane/creditdesk/internal/ledger/repository"
	ledgerservice "github.com/flowvane/creditdesk/internal/ledger/service"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	"github.com/flowvane/creditdesk/internal/subscription/domain"
	subscriptionrepository "github.com/flowvane/creditdesk/internal/subscription/repository"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	svc        domain.Service
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
		&domain.Subscription{},
		&bundledomain.CreditBundle{},
		&creditlotdomain.CreditLot{},
		&ledgerdomain.LedgerEntry{},
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
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(node)

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
	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       subscriptionrepository.Provide(),
		BundleRepo: bundlerepository.NewRepository(db),
		LotSvc:     lotSvc,
		LedgerSvc:  ledgerSvc,
		AuditSvc:   auditSvc,
		Outbox:     outbox,
	})

	f := &fixture{
		db:         db,
		node:       node,
		clock:      fake,
		svc:        svc,
		orgID:      node.Generate(),
		providerID: node.Generate(),
	}

	bundle := bundledomain.CreditBundle{
		ID:           node.Generate(),
		ProviderID:   f.providerID,
		Name:         "Retainer 10",
		Slug:         "retainer-10",
		Hours:        0,
		MonthlyHours: 10,
		PriceCents:   110_000,
		Currency:     "USD",
		BillingType:  bundledomain.BillingTypeRecurring,
		IsActive:     true,
	}
	if err := db.Create(&bundle).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	f.bundleID = bundle.ID
	return f
}

func (f *fixture) subscribe(t *testing.T, externalRef string) *domain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		BundleID:    f.bundleID.String(),
		ExternalRef: externalRef,
		PeriodStart: f.clock.Now(),
		PeriodEnd:   f.clock.Now().AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func renewalEvent(ref string, start, end time.Time) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_inv_1",
		Type:            paymentdomain.EventTypeInvoicePaid,
		SubscriptionRef: ref,
		PeriodStart:     start,
		PeriodEnd:       end,
		OccurredAt:      start,
	}
}

func TestCreateValidatesBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oneTime := bundledomain.CreditBundle{
		ID:          f.node.Generate(),
		ProviderID:  f.providerID,
		Name:        "Growth 25",
		Slug:        "growth-25",
		Hours:       25,
		PriceCents:  275_000,
		Currency:    "USD",
		BillingType: bundledomain.BillingTypeOneTime,
		IsActive:    true,
	}
	if err := f.db.Create(&oneTime).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}

	_, err := f.svc.Create(ctx, domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		BundleID:    oneTime.ID.String(),
		ExternalRef: "sub_onetime",
		PeriodStart: f.clock.Now(),
		PeriodEnd:   f.clock.Now().AddDate(0, 1, 0),
	})
	if !errors.Is(err, domain.ErrInvalidBundle) {
		t.Fatalf("a one-time bundle cannot back a subscription, got %v", err)
	}
}

func TestRenewalGrantsPeriodLotOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, "sub_1")

	periodStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	event := renewalEvent("sub_1", periodStart, periodEnd)

	if err := f.svc.ProcessRenewal(ctx, event); err != nil {
		t.Fatalf("renewal: %v", err)
	}

	var lots []creditlotdomain.CreditLot
	if err := f.db.Where("org_id = ?", f.orgID).Find(&lots).Error; err != nil {
		t.Fatalf("load lots: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("want one period lot, got %d", len(lots))
	}
	if lots[0].MinutesRemaining != 600 {
		t.Fatalf("10 monthly hours grant 600 minutes, got %d", lots[0].MinutesRemaining)
	}
	if !lots[0].ExpiresAt.Equal(periodEnd) {
		t.Fatalf("period hours die with the period: want expiry %v, got %v", periodEnd, lots[0].ExpiresAt)
	}

	stored, err := f.svc.GetByID(ctx, f.orgID, sub.ID.String())
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !stored.CurrentPeriodStart.Equal(periodStart) || !stored.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period not advanced: %+v", stored)
	}

	// Redeliver the same invoice. Nothing new may land.
	if err := f.svc.ProcessRenewal(ctx, event); err != nil {
		t.Fatalf("re-delivered renewal: %v", err)
	}
	if err := f.db.Where("org_id = ?", f.orgID).Find(&lots).Error; err != nil {
		t.Fatalf("reload lots: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("re-delivery must not grant again, got %d lots", len(lots))
	}
	var credits int64
	err = f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("org_id = ? AND reason_code = ?", f.orgID, ledgerdomain.ReasonPurchase).
		Count(&credits).Error
	if err != nil {
		t.Fatalf("count credits: %v", err)
	}
	if credits != 1 {
		t.Fatalf("want one renewal credit, got %d", credits)
	}
}

func TestRenewalDistinctPeriodsGrantSeparately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "sub_1")

	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	may := april.AddDate(0, 1, 0)
	june := may.AddDate(0, 1, 0)

	if err := f.svc.ProcessRenewal(ctx, renewalEvent("sub_1", april, may)); err != nil {
		t.Fatalf("april renewal: %v", err)
	}
	if err := f.svc.ProcessRenewal(ctx, renewalEvent("sub_1", may, june)); err != nil {
		t.Fatalf("may renewal: %v", err)
	}

	var lots int64
	if err := f.db.Model(&creditlotdomain.CreditLot{}).Where("org_id = ?", f.orgID).Count(&lots).Error; err != nil {
		t.Fatalf("count lots: %v", err)
	}
	if lots != 2 {
		t.Fatalf("each period funds its own lot, got %d", lots)
	}
}

func TestRenewalForUnknownSubscription(t *testing.T) {
	f := newFixture(t)

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := f.svc.ProcessRenewal(context.Background(), renewalEvent("sub_ghost", start, start.AddDate(0, 1, 0)))
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("want ErrSubscriptionNotFound, got %v", err)
	}
}

func TestRenewalForCanceledSubscriptionIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, "sub_1")

	if err := f.svc.Cancel(ctx, f.orgID, sub.ID.String(), false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := f.svc.ProcessRenewal(ctx, renewalEvent("sub_1", start, start.AddDate(0, 1, 0))); err != nil {
		t.Fatalf("renewal after cancel should be swallowed, got %v", err)
	}

	var lots int64
	if err := f.db.Model(&creditlotdomain.CreditLot{}).Where("org_id = ?", f.orgID).Count(&lots).Error; err != nil {
		t.Fatalf("count lots: %v", err)
	}
	if lots != 0 {
		t.Fatalf("canceled subscription must not receive grants, got %d", lots)
	}
}

func TestCancelAtPeriodEndKeepsStatusActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, "sub_1")

	if err := f.svc.Cancel(ctx, f.orgID, sub.ID.String(), true); err != nil {
		t.Fatalf("cancel at period end: %v", err)
	}

	stored, err := f.svc.GetByID(ctx, f.orgID, sub.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusActive {
		t.Fatalf("the subscription runs out its paid period, got %s", stored.Status)
	}
	if !stored.CancelAtPeriodEnd {
		t.Fatalf("cancel_at_period_end must be set")
	}
}

func TestSweepPastDueFlagsLapsedRenewals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, "sub_1")

	// Inside the grace window after period end: nothing flips.
	f.clock.Advance(31*24*time.Hour + time.Hour)
	flagged, err := f.svc.SweepPastDue(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("grace window must hold, got %d flagged", flagged)
	}

	f.clock.Advance(72 * time.Hour)
	flagged, err = f.svc.SweepPastDue(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("want 1 flagged subscription, got %d", flagged)
	}

	stored, err := f.svc.GetByID(ctx, f.orgID, sub.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusPastDue {
		t.Fatalf("want past_due, got %s", stored.Status)
	}

	// A later sweep does not double count.
	flagged, err = f.svc.SweepPastDue(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("already flagged, got %d", flagged)
	}
}

func TestRenewalReactivatesPastDueSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, "sub_1")

	f.clock.Advance(40 * 24 * time.Hour)
	if _, err := f.svc.SweepPastDue(ctx, f.clock.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	if err := f.svc.ProcessRenewal(ctx, renewalEvent("sub_1", start, start.AddDate(0, 1, 0))); err != nil {
		t.Fatalf("late renewal: %v", err)
	}

	stored, err := f.svc.GetByID(ctx, f.orgID, sub.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusActive {
		t.Fatalf("a paid renewal reactivates the subscription, got %s", stored.Status)
	}
}
