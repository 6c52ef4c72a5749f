package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/money"
	"github.com/flowvane/creditdesk/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Bundles bundledomain.Repository
	Audit   auditdomain.Service
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	bundles bundledomain.Repository
	audit   auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("order.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		bundles: p.Bundles,
		audit:   p.Audit,
	}
}

// CreateCheckout opens a pending order for one bundle. The payment provider
// checkout carries the order ID in its metadata so the webhook can find its
// way back.
func (s *service) CreateCheckout(ctx context.Context, req domain.CreateCheckoutRequest) (*domain.OrderResponse, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	bundleID, err := snowflake.ParseString(strings.TrimSpace(req.BundleID))
	if err != nil {
		return nil, bundledomain.ErrInvalidBundle
	}

	bundle, err := s.bundles.Get(ctx, bundleID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, bundledomain.ErrInvalidBundle
		}
		return nil, err
	}
	if !bundle.IsActive {
		return nil, bundledomain.ErrBundleInactive
	}

	order := domain.Order{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		ProviderID:  bundle.ProviderID,
		BundleID:    bundle.ID,
		Minutes:     bundle.GrantMinutes(),
		AmountCents: bundle.PriceCents,
		Currency:    bundle.Currency,
		Status:      domain.StatusPending,
		CreatedAt:   s.clock.Now(),
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, order.OrgID, "order.created", "order", order.ID.String(), map[string]any{
		"bundle_id":    bundle.ID.String(),
		"minutes":      order.Minutes,
		"amount_cents": bundle.PriceCents,
		"currency":     bundle.Currency,
	}); err != nil {
		s.log.Warn("failed to record order.created audit", zap.Error(err))
	}

	return s.toResponse(order)
}

func (s *service) GetByID(ctx context.Context, orgID snowflake.ID, id string) (*domain.OrderResponse, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidOrder
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	if orgID != 0 && order.OrgID != orgID {
		return nil, domain.ErrOrderNotFound
	}

	return s.toResponse(*order)
}

func (s *service) ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.OrderResponse, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	orders, err := s.repo.ListByOrg(ctx, orgID, limit)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrderResponse, 0, len(orders))
	for _, order := range orders {
		item, err := s.toResponse(order)
		if err != nil {
			return nil, err
		}
		resp = append(resp, *item)
	}
	return resp, nil
}

func (s *service) toResponse(order domain.Order) (*domain.OrderResponse, error) {
	display, err := money.FormatCurrency(order.AmountCents, order.Currency)
	if err != nil {
		return nil, err
	}
	return &domain.OrderResponse{
		ID:                order.ID.String(),
		OrgID:             order.OrgID.String(),
		ProviderID:        order.ProviderID.String(),
		BundleID:          order.BundleID.String(),
		Minutes:           order.Minutes,
		AmountCents:       order.AmountCents,
		Currency:          order.Currency,
		AmountDisplay:     display,
		Status:            order.Status,
		CheckoutSessionID: order.CheckoutSessionID,
		PaidAt:            order.PaidAt,
		CreatedAt:         order.CreatedAt,
	}, nil
}
