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
	"github.com/flowvane/creditdesk/internal/clock"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	creditlotrepository "github.com/flowvane/creditdesk/internal/creditlot/repository"
	creditlotservice "github.com/flowvane/creditdesk/internal/creditlot/service"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	ledgerrepository "github.com/flowvane/creditdesk/internal/ledger/repository"
	ledgerservice "github.com/flowvane/creditdesk/internal/ledger/service"
	"github.com/flowvane/creditdesk/internal/worklog/domain"
	worklogrepository "github.com/flowvane/creditdesk/internal/worklog/repository"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	lotSvc     creditlotdomain.Service
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
		&domain.WorkLog{},
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
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
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
	svc := NewService(Params{
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

	return &fixture{
		db:         db,
		node:       node,
		clock:      fake,
		lotSvc:     lotSvc,
		svc:        svc,
		orgID:      node.Generate(),
		providerID: node.Generate(),
		userID:     node.Generate(),
	}
}

func (f *fixture) grant(t *testing.T, minutes int64, expiresIn time.Duration) *creditlotdomain.CreditLot {
	t.Helper()
	lot, err := f.lotSvc.GrantManual(context.Background(), creditlotdomain.CreateLotRequest{
		OrgID:      f.orgID,
		ProviderID: f.providerID,
		Minutes:    minutes,
		ExpiresAt:  f.clock.Now().Add(expiresIn),
	}, "")
	if err != nil {
		t.Fatalf("grant lot: %v", err)
	}
	return lot
}

func (f *fixture) logWork(t *testing.T, minutes int64) *domain.WorkLog {
	t.Helper()
	workLog, err := f.svc.CreateAndAllocate(context.Background(), domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		PerformedBy: f.userID,
		PerformedAt: f.clock.Now().Add(-time.Hour),
		Category:    domain.CategoryDevelopment,
		Description: "implemented the import pipeline",
		Minutes:     minutes,
	})
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
	return workLog
}

func (f *fixture) lotByID(t *testing.T, id snowflake.ID) *creditlotdomain.CreditLot {
	t.Helper()
	var lot creditlotdomain.CreditLot
	if err := f.db.First(&lot, "id = ?", id).Error; err != nil {
		t.Fatalf("load lot %s: %v", id, err)
	}
	return &lot
}

func TestAllocateDrawsOldestExpiryFirst(t *testing.T) {
	f := newFixture(t)

	late := f.grant(t, 600, 60*24*time.Hour)
	early := f.grant(t, 100, 10*24*time.Hour)

	workLog := f.logWork(t, 150)
	if workLog.DeficitMinutes != 0 {
		t.Fatalf("fully covered work must carry no deficit, got %d", workLog.DeficitMinutes)
	}

	if got := f.lotByID(t, early.ID); got.MinutesRemaining != 0 || got.Status != creditlotdomain.StatusExhausted {
		t.Fatalf("earliest-expiring lot drains first, got remaining=%d status=%s", got.MinutesRemaining, got.Status)
	}
	if got := f.lotByID(t, late.ID); got.MinutesRemaining != 550 {
		t.Fatalf("later lot covers only the spill, got remaining=%d", got.MinutesRemaining)
	}
}

func TestAllocateRecordsDeficitWhenShort(t *testing.T) {
	f := newFixture(t)

	lot := f.grant(t, 120, 30*24*time.Hour)
	workLog := f.logWork(t, 200)

	if workLog.DeficitMinutes != 80 {
		t.Fatalf("want deficit 80, got %d", workLog.DeficitMinutes)
	}
	if got := f.lotByID(t, lot.ID); got.MinutesRemaining != 0 || got.Status != creditlotdomain.StatusExhausted {
		t.Fatalf("lot must drain to zero, got remaining=%d status=%s", got.MinutesRemaining, got.Status)
	}

	// The full minutes hit the ledger even when lots only covered a part.
	var entry ledgerdomain.LedgerEntry
	err := f.db.First(&entry, "org_id = ? AND reason_code = ?", f.orgID, ledgerdomain.ReasonWorkLogged).Error
	if err != nil {
		t.Fatalf("load debit: %v", err)
	}
	if entry.MinutesDelta != -200 {
		t.Fatalf("want debit -200, got %d", entry.MinutesDelta)
	}
	if entry.RelatedWorkLogID == nil || *entry.RelatedWorkLogID != workLog.ID {
		t.Fatalf("debit must reference the work log")
	}
}

func TestAllocateWithNoLotsIsAllDeficit(t *testing.T) {
	f := newFixture(t)

	workLog := f.logWork(t, 90)
	if workLog.DeficitMinutes != 90 {
		t.Fatalf("want deficit 90, got %d", workLog.DeficitMinutes)
	}
}

func TestAllocateIgnoresExpiredLots(t *testing.T) {
	f := newFixture(t)

	stale := f.grant(t, 300, 24*time.Hour)
	f.clock.Advance(48 * time.Hour)
	fresh := f.grant(t, 60, 24*time.Hour)

	workLog := f.logWork(t, 100)
	if workLog.DeficitMinutes != 40 {
		t.Fatalf("only the fresh lot may fund the work, want deficit 40 got %d", workLog.DeficitMinutes)
	}

	// The pre-allocation sweep expired the stale lot and wrote its
	// remainder off.
	if got := f.lotByID(t, stale.ID); got.Status != creditlotdomain.StatusExpired || got.MinutesRemaining != 300 {
		t.Fatalf("stale lot should be expired untouched, got remaining=%d status=%s", got.MinutesRemaining, got.Status)
	}
	if got := f.lotByID(t, fresh.ID); got.MinutesRemaining != 0 {
		t.Fatalf("fresh lot drains fully, got remaining=%d", got.MinutesRemaining)
	}
}

func TestCreateAndAllocateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	valid := domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		PerformedBy: f.userID,
		PerformedAt: f.clock.Now().Add(-time.Hour),
		Category:    domain.CategoryConsulting,
		Description: "architecture review session",
		Minutes:     30,
	}

	tests := []struct {
		name    string
		mutate  func(*domain.CreateRequest)
		wantErr error
	}{
		{"missing org", func(r *domain.CreateRequest) { r.OrgID = 0 }, domain.ErrInvalidOrganization},
		{"missing provider", func(r *domain.CreateRequest) { r.ProviderID = 0 }, domain.ErrInvalidProvider},
		{"missing performer", func(r *domain.CreateRequest) { r.PerformedBy = 0 }, domain.ErrInvalidPerformer},
		{"zero minutes", func(r *domain.CreateRequest) { r.Minutes = 0 }, domain.ErrInvalidMinutes},
		{"negative minutes", func(r *domain.CreateRequest) { r.Minutes = -15 }, domain.ErrInvalidMinutes},
		{"future performed_at", func(r *domain.CreateRequest) { r.PerformedAt = f.clock.Now().Add(time.Hour) }, domain.ErrInvalidPerformedAt},
		{"unknown category", func(r *domain.CreateRequest) { r.Category = "gardening" }, domain.ErrInvalidCategory},
		{"short description", func(r *domain.CreateRequest) { r.Description = "fix" }, domain.ErrInvalidDescription},
		{"long description", func(r *domain.CreateRequest) { r.Description = strings.Repeat("x", 501) }, domain.ErrInvalidDescription},
		{"long multibyte description", func(r *domain.CreateRequest) { r.Description = strings.Repeat("ü", 501) }, domain.ErrInvalidDescription},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			if _, err := f.svc.CreateAndAllocate(ctx, req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDescriptionLengthCountsCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, 600, 30*24*time.Hour)

	// 500 characters but well over 500 bytes; the limit is on characters.
	wl, err := f.svc.CreateAndAllocate(ctx, domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		PerformedBy: f.userID,
		PerformedAt: f.clock.Now().Add(-time.Hour),
		Category:    domain.CategoryConsulting,
		Description: strings.Repeat("ü", 500),
		Minutes:     30,
	})
	if err != nil {
		t.Fatalf("log multibyte description: %v", err)
	}
	if wl == nil {
		t.Fatal("want a work log back")
	}
}

func TestCategoryIsNormalized(t *testing.T) {
	f := newFixture(t)

	workLog, err := f.svc.CreateAndAllocate(context.Background(), domain.CreateRequest{
		OrgID:       f.orgID,
		ProviderID:  f.providerID,
		PerformedBy: f.userID,
		PerformedAt: f.clock.Now().Add(-time.Minute),
		Category:    "  Support ",
		Description: "triaged the reported outage",
		Minutes:     45,
	})
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
	if workLog.Category != domain.CategorySupport {
		t.Fatalf("want normalized category %q, got %q", domain.CategorySupport, workLog.Category)
	}
}

func TestListFiltersByWindow(t *testing.T) {
	f := newFixture(t)
	f.grant(t, 1000, 90*24*time.Hour)

	f.logWork(t, 30)
	f.clock.Advance(48 * time.Hour)
	f.logWork(t, 60)

	start := f.clock.Now().Add(-24 * time.Hour)
	logs, err := f.svc.List(context.Background(), domain.ListFilter{
		OrgID:   f.orgID,
		StartAt: &start,
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].MinutesSpent != 60 {
		t.Fatalf("want only the recent entry, got %v", logs)
	}
}
