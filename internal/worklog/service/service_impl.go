package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/clock"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	"github.com/flowvane/creditdesk/internal/worklog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// allocationPasses bounds the re-read loop when conditional decrements lose
// to concurrent writers.
const allocationPasses = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Lots       creditlotdomain.Repository
	LotSvc     creditlotdomain.Service
	Ledger     ledgerdomain.Service
	Outbox     *events.Outbox
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	lots       creditlotdomain.Repository
	lotSvc     creditlotdomain.Service
	ledger     ledgerdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("worklog.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		lots:       p.Lots,
		lotSvc:     p.LotSvc,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *service) CreateAndAllocate(ctx context.Context, req domain.CreateRequest) (*domain.WorkLog, error) {
	now := s.clock.Now()

	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.ProviderID == 0 {
		return nil, domain.ErrInvalidProvider
	}
	if req.PerformedBy == 0 {
		return nil, domain.ErrInvalidPerformer
	}
	if req.Minutes <= 0 {
		return nil, domain.ErrInvalidMinutes
	}
	if req.PerformedAt.IsZero() || req.PerformedAt.After(now) {
		return nil, domain.ErrInvalidPerformedAt
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if !domain.ValidCategory(category) {
		return nil, domain.ErrInvalidCategory
	}
	description := strings.TrimSpace(req.Description)
	if n := utf8.RuneCountInString(description); n < domain.DescriptionMinLen || n > domain.DescriptionMaxLen {
		return nil, domain.ErrInvalidDescription
	}

	// Expired lots must not absorb new work; the sweep is idempotent so
	// running it here and in the scheduler is safe.
	if _, err := s.lotSvc.ExpireDue(ctx, now); err != nil {
		s.log.Warn("pre-allocation expiry sweep failed", zap.Error(err))
	}

	workLog := &domain.WorkLog{
		ID:           s.genID.Generate(),
		OrgID:        req.OrgID,
		ProviderID:   req.ProviderID,
		PerformedBy:  req.PerformedBy,
		PerformedAt:  req.PerformedAt.UTC(),
		Category:     category,
		Description:  description,
		MinutesSpent: req.Minutes,
		CreatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deficit, err := s.allocate(ctx, tx, req.OrgID, req.ProviderID, req.Minutes, now)
		if err != nil {
			return err
		}
		workLog.DeficitMinutes = deficit

		if err := s.repo.Insert(ctx, tx, workLog); err != nil {
			return err
		}

		workLogID := workLog.ID
		appendReq := ledgerdomain.AppendRequest{
			OrgID:            req.OrgID,
			ProviderID:       req.ProviderID,
			EntryType:        ledgerdomain.EntryTypeDebit,
			MinutesDelta:     -req.Minutes,
			ReasonCode:       ledgerdomain.ReasonWorkLogged,
			DedupeKey:        "work_logged:worklog:" + workLogID.String(),
			RelatedWorkLogID: &workLogID,
		}
		if deficit > 0 {
			appendReq.Notes = "over-allocation deficit"
		}
		if _, err := s.ledger.AppendTx(ctx, tx, appendReq); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: req.OrgID,
			Type:  events.EventWorkLogged,
			Payload: map[string]any{
				"work_log_id":     workLog.ID.String(),
				"minutes":         req.Minutes,
				"deficit_minutes": workLog.DeficitMinutes,
				"category":        category,
			},
			DedupeKey: "work_logged:" + workLog.ID.String(),
		})
	})
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordAllocation(obsmetrics.OutcomeError, 0)
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		outcome := obsmetrics.OutcomeFulfilled
		if workLog.DeficitMinutes > 0 {
			outcome = obsmetrics.OutcomePartial
		}
		s.obsMetrics.RecordAllocation(outcome, workLog.DeficitMinutes)
	}
	s.log.Info("work logged",
		zap.String("work_log_id", workLog.ID.String()),
		zap.String("org_id", req.OrgID.String()),
		zap.Int64("minutes", req.Minutes),
		zap.Int64("deficit_minutes", workLog.DeficitMinutes),
	)

	return workLog, nil
}

// allocate draws minutes from active lots, oldest expiry first. Each draw is
// a conditional decrement so two concurrent allocations can never spend the
// same remainder; a lost race drops through to the next pass, which re-reads
// the surviving lots. The returned deficit is whatever no lot could cover.
func (s *service) allocate(ctx context.Context, tx *gorm.DB, orgID, providerID snowflake.ID, minutes int64, now time.Time) (int64, error) {
	remaining := minutes
	for pass := 0; pass < allocationPasses && remaining > 0; pass++ {
		lots, err := s.lots.ActiveLots(ctx, tx, orgID, providerID, now)
		if err != nil {
			return 0, err
		}
		if len(lots) == 0 {
			break
		}

		progressed := false
		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			take := lot.MinutesRemaining
			if take > remaining {
				take = remaining
			}
			if take <= 0 {
				continue
			}
			ok, err := s.lots.Decrement(ctx, tx, lot.ID, take)
			if err != nil {
				return 0, err
			}
			if !ok {
				// Lot changed underneath us; the next pass sees its
				// current remainder.
				continue
			}
			remaining -= take
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return remaining, nil
}

func (s *service) List(ctx context.Context, filter domain.ListFilter) ([]domain.WorkLog, error) {
	if filter.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if filter.Limit <= 0 || filter.Limit > 250 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, s.db, filter)
}
