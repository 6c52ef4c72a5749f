package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/flowvane/creditdesk/internal/events"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	"github.com/flowvane/creditdesk/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAlreadyGranted aborts the renewal transaction when the period's ledger
// credit already exists. The caller treats it as success.
var errAlreadyGranted = errors.New("renewal_already_granted")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	BundleRepo bundledomain.Repository
	LotSvc     creditlotdomain.Service
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	bundleRepo bundledomain.Repository
	lotSvc     creditlotdomain.Service
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
}

func NewService(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		bundleRepo: p.BundleRepo,
		lotSvc:     p.LotSvc,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Subscription, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.ExternalRef == "" {
		return nil, domain.ErrInvalidSubscription
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, domain.ErrInvalidPeriod
	}

	bundleID, err := snowflake.ParseString(req.BundleID)
	if err != nil {
		return nil, domain.ErrInvalidBundle
	}
	bundle, err := s.bundleRepo.Get(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil || !bundle.IsActive {
		return nil, domain.ErrInvalidBundle
	}
	if bundle.BillingType != bundledomain.BillingTypeRecurring || bundle.RenewalMinutes() <= 0 {
		return nil, domain.ErrInvalidBundle
	}

	sub := &domain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              req.OrgID,
		ProviderID:         req.ProviderID,
		BundleID:           bundleID,
		ExternalRef:        req.ExternalRef,
		Status:             domain.StatusActive,
		CurrentPeriodStart: req.PeriodStart.UTC(),
		CurrentPeriodEnd:   req.PeriodEnd.UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	if err := s.auditSvc.Record(ctx, sub.OrgID, "subscription.created", "subscription", sub.ID.String(), map[string]any{
		"bundle_id":    bundleID.String(),
		"external_ref": sub.ExternalRef,
	}); err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}

	return sub, nil
}

func (s *service) GetByID(ctx context.Context, orgID snowflake.ID, id string) (*domain.Subscription, error) {
	subID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, domain.ErrInvalidSubscription
	}
	sub, err := s.repo.Get(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.OrgID != orgID {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *service) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Subscription, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListByOrg(ctx, s.db, orgID)
}

func (s *service) ProcessRenewal(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if event == nil || event.Type != paymentdomain.EventTypeInvoicePaid {
		return domain.ErrInvalidSubscription
	}
	if event.SubscriptionRef == "" {
		return domain.ErrInvalidSubscription
	}
	if event.PeriodStart.IsZero() || !event.PeriodEnd.After(event.PeriodStart) {
		return domain.ErrInvalidPeriod
	}

	sub, err := s.repo.GetByExternalRef(ctx, s.db, event.SubscriptionRef)
	if err != nil {
		return err
	}
	if sub == nil {
		return domain.ErrSubscriptionNotFound
	}
	if sub.Status == domain.StatusCanceled {
		s.log.Warn("renewal invoice for canceled subscription",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("external_ref", sub.ExternalRef),
		)
		return nil
	}

	bundle, err := s.bundleRepo.Get(ctx, sub.BundleID)
	if err != nil {
		return err
	}
	if bundle == nil || bundle.RenewalMinutes() <= 0 {
		return domain.ErrInvalidBundle
	}

	minutes := bundle.RenewalMinutes()
	periodStart := event.PeriodStart.UTC()
	periodEnd := event.PeriodEnd.UTC()
	dedupeKey := fmt.Sprintf("renewal:sub:%s:%s", sub.ID, periodStart.Format("2006-01-02"))

	var lotID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Period hours do not roll over: the lot dies with the period.
		lot, _, err := s.lotSvc.CreateLotTx(ctx, tx, creditlotdomain.CreateLotRequest{
			OrgID:      sub.OrgID,
			ProviderID: sub.ProviderID,
			Minutes:    minutes,
			ExpiresAt:  periodEnd,
		})
		if err != nil {
			return err
		}
		lotID = lot.ID

		// The ledger dedupe key is the per-period gate: losing it rolls the
		// lot insert back, so a re-delivered invoice grants nothing.
		appended, err := s.ledgerSvc.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			OrgID:        sub.OrgID,
			ProviderID:   sub.ProviderID,
			EntryType:    ledgerdomain.EntryTypeCredit,
			MinutesDelta: minutes,
			ReasonCode:   ledgerdomain.ReasonPurchase,
			DedupeKey:    dedupeKey,
			RelatedLotID: &lotID,
		})
		if err != nil {
			return err
		}
		if !appended {
			return errAlreadyGranted
		}

		if _, err := s.repo.AdvancePeriod(ctx, tx, sub.ID, periodStart, periodEnd); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: sub.OrgID,
			Type:  events.EventRenewalGranted,
			Payload: map[string]any{
				"subscription_id": sub.ID.String(),
				"minutes":         minutes,
				"period_start":    periodStart.Format(time.RFC3339),
				"period_end":      periodEnd.Format(time.RFC3339),
			},
			DedupeKey: "renewal_granted:" + dedupeKey,
		})
	})
	if err != nil {
		if errors.Is(err, errAlreadyGranted) {
			s.log.Info("renewal already granted",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("dedupe_key", dedupeKey),
			)
			return nil
		}
		return err
	}

	if err := s.auditSvc.Record(ctx, sub.OrgID, "subscription.renewed", "subscription", sub.ID.String(), map[string]any{
		"lot_id":  lotID.String(),
		"minutes": minutes,
	}); err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}

	return nil
}

// pastDueGrace is how long after period end a renewal invoice may still
// arrive before the subscription is flagged.
const pastDueGrace = 48 * time.Hour

func (s *service) SweepPastDue(ctx context.Context, now time.Time) (int, error) {
	flagged, err := s.repo.MarkPastDue(ctx, s.db, now.UTC().Add(-pastDueGrace))
	if err != nil {
		return 0, err
	}
	if flagged > 0 {
		s.log.Info("flagged overdue subscriptions", zap.Int64("count", flagged))
	}
	return int(flagged), nil
}

func (s *service) Cancel(ctx context.Context, orgID snowflake.ID, id string, atPeriodEnd bool) error {
	sub, err := s.GetByID(ctx, orgID, id)
	if err != nil {
		return err
	}

	if atPeriodEnd {
		if err := s.repo.SetCancelAtPeriodEnd(ctx, s.db, sub.ID, true); err != nil {
			return err
		}
	} else {
		if _, err := s.repo.SetStatus(ctx, s.db, sub.ID, sub.Status, domain.StatusCanceled); err != nil {
			return err
		}
	}

	if err := s.auditSvc.Record(ctx, orgID, "subscription.cancelled", "subscription", sub.ID.String(), map[string]any{
		"at_period_end": atPeriodEnd,
	}); err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}
	return nil
}
