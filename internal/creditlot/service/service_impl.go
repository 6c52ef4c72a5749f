package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const expirySweepBatch = 200

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Ledger ledgerdomain.Service
	Outbox *events.Outbox
}

type service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	ledger ledgerdomain.Service
	outbox *events.Outbox
}

func NewService(p Params) domain.Service {
	return &service{
		db:     p.DB,
		log:    p.Log.Named("creditlot.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
		outbox: p.Outbox,
	}
}

func (s *service) CreateLotTx(ctx context.Context, tx *gorm.DB, req domain.CreateLotRequest) (*domain.CreditLot, bool, error) {
	if req.OrgID == 0 {
		return nil, false, domain.ErrInvalidOrganization
	}
	if req.ProviderID == 0 {
		return nil, false, domain.ErrInvalidProvider
	}
	if req.Minutes <= 0 {
		return nil, false, domain.ErrInvalidMinutes
	}
	now := s.clock.Now()
	if !req.ExpiresAt.After(now) {
		return nil, false, domain.ErrInvalidExpiry
	}

	lot := &domain.CreditLot{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		ProviderID:       req.ProviderID,
		OrderID:          req.OrderID,
		MinutesPurchased: req.Minutes,
		MinutesRemaining: req.Minutes,
		Status:           domain.StatusActive,
		PurchasedAt:      now,
		ExpiresAt:        req.ExpiresAt.UTC(),
		CreatedAt:        now,
	}

	inserted, err := s.repo.Insert(ctx, tx, lot)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// The order already funded a lot on an earlier delivery.
		existing, err := s.repo.GetByOrder(ctx, tx, *req.OrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: lot.OrgID,
		Type:  events.EventLotCreated,
		Payload: map[string]any{
			"lot_id":     lot.ID.String(),
			"minutes":    lot.MinutesPurchased,
			"expires_at": lot.ExpiresAt.Format(time.RFC3339),
		},
		DedupeKey: "lot_created:" + lot.ID.String(),
	}); err != nil {
		return nil, false, err
	}

	return lot, true, nil
}

func (s *service) GrantManual(ctx context.Context, req domain.CreateLotRequest, notes string) (*domain.CreditLot, error) {
	var lot *domain.CreditLot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, _, err := s.CreateLotTx(ctx, tx, domain.CreateLotRequest{
			OrgID:      req.OrgID,
			ProviderID: req.ProviderID,
			Minutes:    req.Minutes,
			ExpiresAt:  req.ExpiresAt,
		})
		if err != nil {
			return err
		}
		lot = created

		lotID := lot.ID
		_, err = s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			OrgID:        lot.OrgID,
			ProviderID:   lot.ProviderID,
			EntryType:    ledgerdomain.EntryTypeCredit,
			MinutesDelta: lot.MinutesPurchased,
			ReasonCode:   ledgerdomain.ReasonManualAdjustment,
			DedupeKey:    "manual_grant:lot:" + lotID.String(),
			RelatedLotID: &lotID,
			Notes:        notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *service) ActiveLots(ctx context.Context, orgID, providerID snowflake.ID) ([]domain.CreditLot, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ActiveLots(ctx, s.db, orgID, providerID, s.clock.Now())
}

func (s *service) ListByOrg(ctx context.Context, orgID, providerID snowflake.ID) ([]domain.CreditLot, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListByOrg(ctx, s.db, orgID, providerID)
}

// ExpireDue walks live lots past expiry, exhausted ones included. Each lot is
// expired with a CAS on its remaining minutes so a concurrent allocation
// forces a clean re-read instead of writing off minutes that were just spent.
func (s *service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		due, err := s.repo.DueForExpiry(ctx, s.db, now, expirySweepBatch)
		if err != nil {
			return expired, err
		}
		if len(due) == 0 {
			return expired, nil
		}

		progressed := false
		for _, lot := range due {
			done, err := s.expireLot(ctx, lot)
			if err != nil {
				return expired, err
			}
			if done {
				expired++
				progressed = true
			}
		}
		if !progressed {
			// Every CAS lost this pass; the next sweep picks them up.
			return expired, nil
		}
		if len(due) < expirySweepBatch {
			return expired, nil
		}
	}
}

func (s *service) expireLot(ctx context.Context, lot domain.CreditLot) (bool, error) {
	transitioned := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkExpired(ctx, tx, lot.ID, lot.MinutesRemaining)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		transitioned = true

		if lot.MinutesRemaining > 0 {
			lotID := lot.ID
			if _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
				OrgID:        lot.OrgID,
				ProviderID:   lot.ProviderID,
				EntryType:    ledgerdomain.EntryTypeDebit,
				MinutesDelta: -lot.MinutesRemaining,
				ReasonCode:   ledgerdomain.ReasonExpiryWriteoff,
				DedupeKey:    "expiry_writeoff:lot:" + lotID.String(),
				RelatedLotID: &lotID,
			}); err != nil {
				return err
			}
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: lot.OrgID,
			Type:  events.EventLotExpired,
			Payload: map[string]any{
				"lot_id":              lot.ID.String(),
				"minutes_written_off": lot.MinutesRemaining,
			},
			DedupeKey: "lot_expired:" + lot.ID.String(),
		})
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		s.log.Info("credit lot expired",
			zap.String("lot_id", lot.ID.String()),
			zap.String("org_id", lot.OrgID.String()),
			zap.Int64("minutes_written_off", lot.MinutesRemaining),
		)
	}
	return transitioned, nil
}
