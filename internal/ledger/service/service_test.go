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
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	ledgerrepository "github.com/flowvane/creditdesk/internal/ledger/repository"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   ledgerdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ledgerdomain.LedgerEntry{}, &auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})
	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     ledgerrepository.NewRepository(),
		AuditSvc: auditSvc,
	})
	return &fixture{db: db, node: node, clock: fake, svc: svc}
}

func TestAppendIsIdempotentPerDedupeKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.node.Generate()
	providerID := f.node.Generate()

	req := ledgerdomain.AppendRequest{
		OrgID:        orgID,
		ProviderID:   providerID,
		EntryType:    ledgerdomain.EntryTypeCredit,
		MinutesDelta: 600,
		ReasonCode:   ledgerdomain.ReasonPurchase,
		DedupeKey:    "purchase:order:42",
	}

	inserted, err := f.svc.Append(ctx, req)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if !inserted {
		t.Fatalf("first append should insert")
	}

	inserted, err = f.svc.Append(ctx, req)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate append must be a no-op")
	}

	var count int64
	if err := f.db.Model(&ledgerdomain.LedgerEntry{}).Where("org_id = ?", orgID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("want 1 entry, got %d", count)
	}

	sum, err := f.svc.SignedSum(ctx, orgID, providerID)
	if err != nil {
		t.Fatalf("signed sum: %v", err)
	}
	if sum != 600 {
		t.Fatalf("want sum 600, got %d", sum)
	}
}

func TestAppendSameKeyDifferentReasonBothLand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.node.Generate()
	providerID := f.node.Generate()

	// The dedupe scope is (org, reason, key): the same key under another
	// reason code is a distinct posting.
	for _, req := range []ledgerdomain.AppendRequest{{
		OrgID:        orgID,
		ProviderID:   providerID,
		EntryType:    ledgerdomain.EntryTypeCredit,
		MinutesDelta: 100,
		ReasonCode:   ledgerdomain.ReasonPurchase,
		DedupeKey:    "shared-key",
	}, {
		OrgID:        orgID,
		ProviderID:   providerID,
		EntryType:    ledgerdomain.EntryTypeCredit,
		MinutesDelta: 50,
		ReasonCode:   ledgerdomain.ReasonManualAdjustment,
		DedupeKey:    "shared-key",
	}} {
		inserted, err := f.svc.Append(ctx, req)
		if err != nil {
			t.Fatalf("append %s: %v", req.ReasonCode, err)
		}
		if !inserted {
			t.Fatalf("append %s should insert", req.ReasonCode)
		}
	}

	sum, err := f.svc.SignedSum(ctx, orgID, 0)
	if err != nil {
		t.Fatalf("signed sum: %v", err)
	}
	if sum != 150 {
		t.Fatalf("want sum 150, got %d", sum)
	}
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.node.Generate()
	providerID := f.node.Generate()

	base := ledgerdomain.AppendRequest{
		OrgID:        orgID,
		ProviderID:   providerID,
		EntryType:    ledgerdomain.EntryTypeCredit,
		MinutesDelta: 60,
		ReasonCode:   ledgerdomain.ReasonPurchase,
		DedupeKey:    "k",
	}

	tests := []struct {
		name    string
		mutate  func(*ledgerdomain.AppendRequest)
		wantErr error
	}{
		{"missing org", func(r *ledgerdomain.AppendRequest) { r.OrgID = 0 }, ledgerdomain.ErrInvalidOrganization},
		{"missing provider", func(r *ledgerdomain.AppendRequest) { r.ProviderID = 0 }, ledgerdomain.ErrInvalidProvider},
		{"unknown reason", func(r *ledgerdomain.AppendRequest) { r.ReasonCode = "refund" }, ledgerdomain.ErrInvalidReasonCode},
		{"credit with negative delta", func(r *ledgerdomain.AppendRequest) { r.MinutesDelta = -60 }, ledgerdomain.ErrInvalidDelta},
		{"debit with positive delta", func(r *ledgerdomain.AppendRequest) {
			r.EntryType = ledgerdomain.EntryTypeDebit
		}, ledgerdomain.ErrInvalidDelta},
		{"zero delta", func(r *ledgerdomain.AppendRequest) { r.MinutesDelta = 0 }, ledgerdomain.ErrInvalidDelta},
		{"blank dedupe key", func(r *ledgerdomain.AppendRequest) { r.DedupeKey = "   " }, ledgerdomain.ErrInvalidDedupeKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			if _, err := f.svc.Append(ctx, req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.node.Generate()
	providerID := f.node.Generate()

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		if _, err := f.svc.Append(ctx, ledgerdomain.AppendRequest{
			OrgID:        orgID,
			ProviderID:   providerID,
			EntryType:    ledgerdomain.EntryTypeCredit,
			MinutesDelta: int64(60 * (i + 1)),
			ReasonCode:   ledgerdomain.ReasonPurchase,
			DedupeKey:    fmt.Sprintf("entry-%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, next, err := f.svc.List(ctx, ledgerdomain.ListFilter{OrgID: orgID, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("want 2 entries, got %d", len(page))
	}
	if next == "" {
		t.Fatalf("want a next page token")
	}
	if page[0].MinutesDelta != 180 || page[1].MinutesDelta != 120 {
		t.Fatalf("want newest first, got %d then %d", page[0].MinutesDelta, page[1].MinutesDelta)
	}

	rest, next, err := f.svc.List(ctx, ledgerdomain.ListFilter{OrgID: orgID, Limit: 2, Cursor: next})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(rest) != 1 || rest[0].MinutesDelta != 60 {
		t.Fatalf("want the oldest entry on page two, got %v", rest)
	}
	if next != "" {
		t.Fatalf("no further page expected, got token %q", next)
	}
}

func TestListRejectsInvertedTimeRange(t *testing.T) {
	f := newFixture(t)
	orgID := f.node.Generate()

	start := f.clock.Now()
	end := start.Add(-time.Hour)
	_, _, err := f.svc.List(context.Background(), ledgerdomain.ListFilter{
		OrgID:   orgID,
		StartAt: &start,
		EndAt:   &end,
	})
	if !errors.Is(err, ledgerdomain.ErrInvalidTimeRange) {
		t.Fatalf("want ErrInvalidTimeRange, got %v", err)
	}
}
