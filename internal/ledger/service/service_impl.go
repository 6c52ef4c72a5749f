package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/actor"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	"github.com/flowvane/creditdesk/internal/clock"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	"github.com/flowvane/creditdesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (bool, error) {
	if req.OrgID == 0 {
		return false, ledgerdomain.ErrInvalidOrganization
	}
	if req.ProviderID == 0 {
		return false, ledgerdomain.ErrInvalidProvider
	}
	if !ledgerdomain.ValidReason(req.ReasonCode) {
		return false, ledgerdomain.ErrInvalidReasonCode
	}
	if err := ledgerdomain.ValidateDirection(req.EntryType, req.MinutesDelta); err != nil {
		return false, err
	}
	if strings.TrimSpace(req.DedupeKey) == "" {
		return false, ledgerdomain.ErrInvalidDedupeKey
	}

	actorType := auditdomain.ActorTypeSystem
	if who := actor.FromContext(ctx); !who.IsSystem() {
		actorType = auditdomain.ActorTypeUser
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		ProviderID:       req.ProviderID,
		EntryType:        req.EntryType,
		MinutesDelta:     req.MinutesDelta,
		ReasonCode:       req.ReasonCode,
		DedupeKey:        strings.TrimSpace(req.DedupeKey),
		RelatedOrderID:   req.RelatedOrderID,
		RelatedLotID:     req.RelatedLotID,
		RelatedWorkLogID: req.RelatedWorkLogID,
		ActorType:        actorType,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, tx, entry)
	if err != nil {
		return false, err
	}
	if !inserted {
		s.log.Info("ledger entry already recorded",
			zap.String("org_id", req.OrgID.String()),
			zap.String("reason_code", string(req.ReasonCode)),
			zap.String("dedupe_key", entry.DedupeKey),
		)
		return false, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(string(req.ReasonCode))
	}
	return true, nil
}

func (s *Service) Append(ctx context.Context, req ledgerdomain.AppendRequest) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.AppendTx(ctx, tx, req)
		if err != nil {
			return err
		}
		inserted = ok
		return nil
	})
	if err != nil {
		return false, err
	}

	if inserted {
		if err := s.auditSvc.Record(ctx, req.OrgID, "ledger.entry_appended", "ledger_entry", "", map[string]any{
			"reason_code":   string(req.ReasonCode),
			"minutes_delta": req.MinutesDelta,
		}); err != nil {
			s.log.Warn("failed to record ledger audit", zap.Error(err))
		}
	}
	return inserted, nil
}

func (s *Service) List(ctx context.Context, filter ledgerdomain.ListFilter) ([]ledgerdomain.LedgerEntry, string, error) {
	if filter.OrgID == 0 {
		return nil, "", ledgerdomain.ErrInvalidOrganization
	}
	if filter.StartAt != nil && filter.EndAt != nil && filter.EndAt.Before(*filter.StartAt) {
		return nil, "", ledgerdomain.ErrInvalidTimeRange
	}
	if filter.Limit <= 0 || filter.Limit > 250 {
		filter.Limit = 50
	}

	entries, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, "", err
	}

	trimmed, page := pagination.Trim(entries, filter.Limit, func(entry ledgerdomain.LedgerEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if !page.HasMore {
		return trimmed, "", nil
	}
	return trimmed, page.NextPageToken, nil
}

func (s *Service) SignedSum(ctx context.Context, orgID, providerID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, ledgerdomain.ErrInvalidOrganization
	}
	return s.repo.SignedSum(ctx, s.db, orgID, providerID)
}
