package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/flowvane/creditdesk/internal/events"
	"github.com/flowvane/creditdesk/internal/fulfillment/domain"
	invoicedomain "github.com/flowvane/creditdesk/internal/invoice/domain"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileBatchSize = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Policy     *config.CreditPolicyHolder
	OrderRepo  orderdomain.Repository
	BundleRepo bundledomain.Repository
	LotSvc     creditlotdomain.Service
	LedgerSvc  ledgerdomain.Service
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	policy     *config.CreditPolicyHolder
	orderRepo  orderdomain.Repository
	bundleRepo bundledomain.Repository
	lotSvc     creditlotdomain.Service
	ledgerSvc  ledgerdomain.Service
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("fulfillment.service"),
		policy:     p.Policy,
		orderRepo:  p.OrderRepo,
		bundleRepo: p.BundleRepo,
		lotSvc:     p.LotSvc,
		ledgerSvc:  p.LedgerSvc,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *service) ProcessPaymentEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted:
		return s.processCheckoutCompleted(ctx, event)
	case paymentdomain.EventTypeCheckoutExpired:
		return s.processCheckoutExpired(ctx, event)
	default:
		return domain.ErrInvalidEvent
	}
}

func (s *service) processCheckoutCompleted(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	order, err := s.lookupOrder(ctx, event)
	if err != nil {
		return err
	}

	if order.Status == orderdomain.StatusPaid {
		// Re-delivery after a successful grant. The only thing worth doing
		// is backfilling a receipt reference that arrived late.
		if event.ReceiptRef != "" {
			if err := s.invoiceSvc.AttachReceipt(ctx, order.ID, event.ReceiptRef); err != nil {
				s.log.Warn("receipt backfill failed",
					zap.String("order_id", order.ID.String()),
					zap.Error(err),
				)
			}
		}
		s.recordOutcome(event.Type, obsmetrics.OutcomeDuplicate)
		return nil
	}

	paidAt := event.OccurredAt.UTC()
	swapped, err := s.orderRepo.CompareAndSwapStatus(ctx, order.ID, orderdomain.StatusTransition{
		From:              orderdomain.StatusPending,
		To:                orderdomain.StatusPaid,
		CheckoutSessionID: event.CheckoutSessionID,
		PaymentIntentRef:  event.PaymentIntentRef,
		PaidAt:            &paidAt,
	})
	if err != nil {
		s.recordOutcome(event.Type, obsmetrics.OutcomeError)
		return err
	}
	if !swapped {
		// A concurrent delivery won the flip, or the order left pending some
		// other way. Either way there is nothing left for this delivery.
		s.recordOutcome(event.Type, obsmetrics.OutcomeConflict)
		return nil
	}

	if err := s.grantForOrder(ctx, order, paidAt, event.ReceiptRef); err != nil {
		// The status flip stands. The reconciliation job retries the grant.
		s.log.Error("grant after status flip failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		s.recordOutcome(event.Type, obsmetrics.OutcomeError)
		return err
	}

	s.recordOutcome(event.Type, obsmetrics.OutcomeFulfilled)
	return nil
}

func (s *service) processCheckoutExpired(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	order, err := s.lookupOrder(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// An expired session for an order we never created. Nothing to
			// cancel.
			return nil
		}
		return err
	}

	swapped, err := s.orderRepo.CompareAndSwapStatus(ctx, order.ID, orderdomain.StatusTransition{
		From:              orderdomain.StatusPending,
		To:                orderdomain.StatusCancelled,
		CheckoutSessionID: event.CheckoutSessionID,
	})
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}

	if err := s.auditSvc.Record(ctx, order.OrgID, "order.cancelled", "order", order.ID.String(), map[string]any{
		"checkout_session_id": event.CheckoutSessionID,
	}); err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}
	return nil
}

// grantForOrder runs the post-flip grant: lot, purchase credit, invoice and
// notification commit together. Every write is keyed by the order, so a rerun
// after a partial failure lands on the conflict path and completes cleanly.
func (s *service) grantForOrder(ctx context.Context, order *orderdomain.Order, paidAt time.Time, receiptRef string) error {
	bundle, err := s.bundleRepo.Get(ctx, order.BundleID)
	if err != nil {
		return err
	}
	if bundle == nil {
		return fmt.Errorf("bundle %s missing for order %s", order.BundleID, order.ID)
	}

	retention := s.policy.Get().LotRetentionMonths
	expiresAt := paidAt.AddDate(0, retention, 0)
	orderID := order.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lot, _, err := s.lotSvc.CreateLotTx(ctx, tx, creditlotdomain.CreateLotRequest{
			OrgID:      order.OrgID,
			ProviderID: order.ProviderID,
			OrderID:    &orderID,
			Minutes:    order.Minutes,
			ExpiresAt:  expiresAt,
		})
		if err != nil {
			return err
		}

		lotID := lot.ID
		if _, err := s.ledgerSvc.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			OrgID:          order.OrgID,
			ProviderID:     order.ProviderID,
			EntryType:      ledgerdomain.EntryTypeCredit,
			MinutesDelta:   order.Minutes,
			ReasonCode:     ledgerdomain.ReasonPurchase,
			DedupeKey:      fmt.Sprintf("purchase:order:%s", orderID),
			RelatedOrderID: &orderID,
			RelatedLotID:   &lotID,
		}); err != nil {
			return err
		}

		if err := s.invoiceSvc.UpsertForOrderTx(ctx, tx, invoicedomain.UpsertRequest{
			OrgID:       order.OrgID,
			ProviderID:  order.ProviderID,
			OrderID:     orderID,
			AmountCents: order.AmountCents,
			Currency:    order.Currency,
			ReceiptRef:  receiptRef,
			IssuedAt:    paidAt,
		}); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: order.OrgID,
			Type:  events.EventOrderPaid,
			Payload: map[string]any{
				"order_id":    orderID.String(),
				"bundle_name": bundle.Name,
				"minutes":     order.Minutes,
			},
			DedupeKey: fmt.Sprintf("order_paid:%s", orderID),
		})
	})
	if err != nil {
		return err
	}

	if err := s.auditSvc.Record(ctx, order.OrgID, "order.paid", "order", orderID.String(), map[string]any{
		"minutes":    order.Minutes,
		"expires_at": expiresAt.Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}

	return nil
}

func (s *service) lookupOrder(ctx context.Context, event *paymentdomain.PaymentEvent) (*orderdomain.Order, error) {
	if event.OrderID != 0 {
		order, err := s.orderRepo.Get(ctx, event.OrderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	if event.CheckoutSessionID != "" {
		order, err := s.orderRepo.GetByCheckoutSession(ctx, event.CheckoutSessionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

type unfulfilledOrder struct {
	ID snowflake.ID
}

func (s *service) ReconcilePaid(ctx context.Context, now time.Time) (int, error) {
	var rows []unfulfilledOrder
	err := s.db.WithContext(ctx).Raw(
		`SELECT o.id
		 FROM orders o
		 WHERE o.status = 'paid'
		   AND NOT EXISTS (
			SELECT 1 FROM credit_lots cl WHERE cl.order_id = o.id
		   )
		 ORDER BY o.paid_at ASC
		 LIMIT ?`,
		reconcileBatchSize,
	).Scan(&rows).Error
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, row := range rows {
		order, err := s.orderRepo.Get(ctx, row.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return repaired, err
		}
		if order == nil || order.Status != orderdomain.StatusPaid {
			continue
		}
		paidAt := now.UTC()
		if order.PaidAt != nil {
			paidAt = order.PaidAt.UTC()
		}
		if err := s.grantForOrder(ctx, order, paidAt, ""); err != nil {
			s.log.Error("reconcile grant failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		s.log.Info("reconciled unfulfilled orders", zap.Int("count", repaired))
	}
	return repaired, nil
}

func (s *service) recordOutcome(eventType, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordFulfillment(eventType, outcome)
	}
}
