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
	"github.com/flowvane/creditdesk/internal/balance/domain"
	balancerepository "github.com/flowvane/creditdesk/internal/balance/repository"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	creditlotrepository "github.com/flowvane/creditdesk/internal/creditlot/repository"
	creditlotservice "github.com/flowvane/creditdesk/internal/creditlot/service"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	ledgerrepository "github.com/flowvane/creditdesk/internal/ledger/repository"
	ledgerservice "github.com/flowvane/creditdesk/internal/ledger/service"
	worklogdomain "github.com/flowvane/creditdesk/internal/worklog/domain"
	worklogrepository "github.com/flowvane/creditdesk/internal/worklog/repository"
	worklogservice "github.com/flowvane/creditdesk/internal/worklog/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	lotSvc     creditlotdomain.Service
	workSvc    worklogdomain.Service
	ledgerSvc  ledgerdomain.Service
	svc        domain.Service
	orgID      snowflake.ID
	providerID snowflake.ID
	userID     snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&creditlotdomain.CreditLot{},
		&ledgerdomain.LedgerEntry{},
		&worklogdomain.WorkLog{},
		&auditdomain.AuditLog{},
		&events.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Pacing joins orders and bundles; the service tests seed these two
	// tables directly.
	db.Exec(`CREATE TABLE orders (
		id BIGINT PRIMARY KEY, org_id BIGINT NOT NULL, provider_id BIGINT NOT NULL,
		bundle_id BIGINT NOT NULL, status TEXT NOT NULL, paid_at TIMESTAMP
	)`)
	db.Exec(`CREATE TABLE credit_bundles (
		id BIGINT PRIMARY KEY,
		recommended_monthly_minutes BIGINT NOT NULL DEFAULT 0,
		monthly_consumption_cap_minutes BIGINT NOT NULL DEFAULT 0
	)`)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
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
	workSvc := worklogservice.NewService(worklogservice.Params{
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
	svc := NewService(Params{
		DB:     db,
		Log:    log,
		Clock:  fake,
		Repo:   balancerepository.NewRepository(),
		Lots:   lotSvc,
		Policy: policy,
	})

	return &fixture{
		db:         db,
		node:       node,
		clock:      fake,
		lotSvc:     lotSvc,
		workSvc:    workSvc,
		ledgerSvc:  ledgerSvc,
		svc:        svc,
		orgID:      node.Generate(),
		providerID: node.Generate(),
		userID:     node.Generate(),
	}
}

func (f *fixture) grant(t *testing.T, providerID snowflake.ID, minutes int64, expiresIn time.Duration) {
	t.Helper()
	_, err := f.lotSvc.GrantManual(context.Background(), creditlotdomain.CreateLotRequest{
		OrgID:      f.orgID,
		ProviderID: providerID,
		Minutes:    minutes,
		ExpiresAt:  f.clock.Now().Add(expiresIn),
	}, "")
	if err != nil {
		t.Fatalf("grant lot: %v", err)
	}
}

func (f *fixture) logWork(t *testing.T, minutes int64) {
	t.Helper()
	_, err := f.workSvc.CreateAndAllocate(context.Background(), worklogdomain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		PerformedBy: f.userID,
		PerformedAt: f.clock.Now().Add(-time.Minute),
		Category:    worklogdomain.CategoryDevelopment,
		Description: "sprint delivery work",
		Minutes:     minutes,
	})
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
}

func (f *fixture) seedPaidOrder(t *testing.T, recommended, cap int64) {
	t.Helper()
	bundleID := f.node.Generate()
	orderID := f.node.Generate()
	if err := f.db.Exec(
		`INSERT INTO credit_bundles (id, recommended_monthly_minutes, monthly_consumption_cap_minutes) VALUES (?, ?, ?)`,
		bundleID, recommended, cap,
	).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	if err := f.db.Exec(
		`INSERT INTO orders (id, org_id, provider_id, bundle_id, status, paid_at) VALUES (?, ?, ?, ?, 'paid', ?)`,
		orderID, f.orgID, f.providerID, bundleID, f.clock.Now(),
	).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestBalanceReconcilesWithLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.providerID, 600, 90*24*time.Hour)
	f.logWork(t, 250)

	balance, err := f.svc.GetBalance(ctx, f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.TotalMinutes != 600 {
		t.Fatalf("want total 600, got %d", balance.TotalMinutes)
	}
	if balance.AvailableMinutes != 350 {
		t.Fatalf("want available 350, got %d", balance.AvailableMinutes)
	}
	if balance.UsedMinutes != 250 {
		t.Fatalf("want used 250, got %d", balance.UsedMinutes)
	}
	if balance.UsedMinutes+balance.AvailableMinutes+balance.WrittenOffMinutes != balance.TotalMinutes {
		t.Fatalf("balance identity broken: %+v", balance)
	}

	// The ledger tells the same story.
	sum, err := f.ledgerSvc.SignedSum(ctx, f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("signed sum: %v", err)
	}
	if sum != balance.AvailableMinutes {
		t.Fatalf("ledger sum %d disagrees with available %d", sum, balance.AvailableMinutes)
	}
}

func TestBalanceCountsExpiryAsWrittenOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.providerID, 300, 24*time.Hour)
	f.grant(t, f.providerID, 500, 90*24*time.Hour)
	f.logWork(t, 100)

	f.clock.Advance(48 * time.Hour)

	// GetBalance runs the lazy sweep itself; no scheduler needed.
	balance, err := f.svc.GetBalance(ctx, f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.WrittenOffMinutes != 200 {
		t.Fatalf("want 200 written off (300 granted - 100 worked), got %d", balance.WrittenOffMinutes)
	}
	if balance.AvailableMinutes != 500 {
		t.Fatalf("want available 500, got %d", balance.AvailableMinutes)
	}
	if balance.UsedMinutes != 100 {
		t.Fatalf("want used 100, got %d", balance.UsedMinutes)
	}
	if balance.UsedMinutes+balance.AvailableMinutes+balance.WrittenOffMinutes != balance.TotalMinutes {
		t.Fatalf("balance identity broken: %+v", balance)
	}

	sum, err := f.ledgerSvc.SignedSum(ctx, f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("signed sum: %v", err)
	}
	if sum != balance.AvailableMinutes {
		t.Fatalf("ledger sum %d disagrees with available %d", sum, balance.AvailableMinutes)
	}
}

func TestBalanceFlagsExpiringSoon(t *testing.T) {
	f := newFixture(t)

	f.grant(t, f.providerID, 100, 10*24*time.Hour)
	f.grant(t, f.providerID, 400, 60*24*time.Hour)

	balance, err := f.svc.GetBalance(context.Background(), f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.ExpiringSoonMinutes != 100 {
		t.Fatalf("want 100 expiring within the window, got %d", balance.ExpiringSoonMinutes)
	}
}

func TestGetBalancesSumsAcrossProviders(t *testing.T) {
	f := newFixture(t)
	secondProvider := f.node.Generate()

	f.grant(t, f.providerID, 300, 90*24*time.Hour)
	f.grant(t, secondProvider, 200, 90*24*time.Hour)

	balances, total, err := f.svc.GetBalances(context.Background(), f.orgID)
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("want one balance per provider, got %d", len(balances))
	}
	if total.TotalMinutes != 500 || total.AvailableMinutes != 500 {
		t.Fatalf("want cross-provider total 500, got %+v", total)
	}
}

func TestGetBalanceEmptyOrg(t *testing.T) {
	f := newFixture(t)

	balance, err := f.svc.GetBalance(context.Background(), f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.TotalMinutes != 0 || balance.AvailableMinutes != 0 {
		t.Fatalf("want a zero balance, got %+v", balance)
	}
}

func TestPacingThresholds(t *testing.T) {
	tests := []struct {
		name         string
		limit        int64
		worked       int64
		wantPercent  float64
		wantWarning  bool
		wantExceeded bool
	}{
		{"under the warning line", 1000, 500, 50, false, false},
		{"at the warning line", 1000, 750, 75, true, false},
		{"over the limit", 1000, 1200, 100, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedPaidOrder(t, tc.limit, 0)
			f.grant(t, f.providerID, 2000, 90*24*time.Hour)
			f.logWork(t, tc.worked)

			pacing, err := f.svc.GetPacing(context.Background(), f.orgID, f.providerID)
			if err != nil {
				t.Fatalf("get pacing: %v", err)
			}
			if pacing.LimitMinutes != tc.limit {
				t.Fatalf("want limit %d, got %d", tc.limit, pacing.LimitMinutes)
			}
			if pacing.MonthUsedMinutes != tc.worked {
				t.Fatalf("want used %d, got %d", tc.worked, pacing.MonthUsedMinutes)
			}
			if pacing.Percent != tc.wantPercent {
				t.Fatalf("want percent %.1f, got %.1f", tc.wantPercent, pacing.Percent)
			}
			if pacing.Warning != tc.wantWarning || pacing.Exceeded != tc.wantExceeded {
				t.Fatalf("want warning=%v exceeded=%v, got %+v", tc.wantWarning, tc.wantExceeded, pacing)
			}
		})
	}
}

func TestPacingCapBeatsRecommendation(t *testing.T) {
	f := newFixture(t)
	f.seedPaidOrder(t, 800, 1200)

	pacing, err := f.svc.GetPacing(context.Background(), f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get pacing: %v", err)
	}
	if pacing.LimitMinutes != 1200 {
		t.Fatalf("the hard cap wins over the recommendation, got %d", pacing.LimitMinutes)
	}
}

func TestPacingWithoutReferenceIsEmpty(t *testing.T) {
	f := newFixture(t)

	pacing, err := f.svc.GetPacing(context.Background(), f.orgID, f.providerID)
	if err != nil {
		t.Fatalf("get pacing: %v", err)
	}
	if pacing.LimitMinutes != 0 || pacing.Warning || pacing.Exceeded {
		t.Fatalf("want an empty pacing report, got %+v", pacing)
	}
}
