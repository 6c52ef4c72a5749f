package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/bundle/domain"
	"github.com/flowvane/creditdesk/internal/cache"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/money"
	"github.com/gosimple/slug"
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
	Catalog cache.CatalogCache
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	catalog cache.CatalogCache
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("bundle.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateBundleRequest) (*domain.BundleResponse, error) {
	providerID, err := snowflake.ParseString(strings.TrimSpace(req.ProviderID))
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.PriceCents <= 0 {
		return nil, domain.ErrInvalidPrice
	}

	billingType := strings.ToLower(strings.TrimSpace(req.BillingType))
	switch billingType {
	case domain.BillingTypeOneTime:
		if req.Hours <= 0 {
			return nil, domain.ErrInvalidHours
		}
	case domain.BillingTypeRecurring:
		if req.MonthlyHours <= 0 {
			return nil, domain.ErrInvalidHours
		}
	default:
		return nil, domain.ErrInvalidBillingType
	}
	if req.Hours < 0 || req.MonthlyHours < 0 ||
		req.RecommendedMonthlyMinutes < 0 || req.MonthlyConsumptionCapMinutes < 0 {
		return nil, domain.ErrInvalidHours
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if _, err := money.FormatCurrency(req.PriceCents, currency); err != nil {
		return nil, err
	}

	bundle := domain.CreditBundle{
		ID:                           s.genID.Generate(),
		ProviderID:                   providerID,
		Name:                         name,
		Slug:                         slug.Make(name),
		Hours:                        req.Hours,
		MonthlyHours:                 req.MonthlyHours,
		PriceCents:                   req.PriceCents,
		Currency:                     currency,
		BillingType:                  billingType,
		RecommendedMonthlyMinutes:    req.RecommendedMonthlyMinutes,
		MonthlyConsumptionCapMinutes: req.MonthlyConsumptionCapMinutes,
		IsActive:                     true,
		CreatedAt:                    s.clock.Now(),
	}

	if err := s.repo.Create(ctx, bundle); err != nil {
		return nil, err
	}

	return s.toResponse(bundle)
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.BundleResponse, error) {
	bundleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidBundle
	}

	if cached, ok := s.catalog.GetBundle(bundleID); ok {
		return s.toResponse(*cached)
	}

	bundle, err := s.repo.Get(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, domain.ErrInvalidBundle
	}
	s.catalog.SetBundle(bundle)

	return s.toResponse(*bundle)
}

func (s *service) ListActive(ctx context.Context, providerID string) ([]domain.BundleResponse, error) {
	var id snowflake.ID
	if trimmed := strings.TrimSpace(providerID); trimmed != "" {
		parsed, err := snowflake.ParseString(trimmed)
		if err != nil {
			return nil, domain.ErrInvalidProvider
		}
		id = parsed
	}

	bundles, err := s.repo.ListActive(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.BundleResponse, 0, len(bundles))
	for _, bundle := range bundles {
		item, err := s.toResponse(bundle)
		if err != nil {
			return nil, err
		}
		resp = append(resp, *item)
	}
	return resp, nil
}

func (s *service) Deactivate(ctx context.Context, id string) error {
	bundleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrInvalidBundle
	}
	if err := s.repo.SetActive(ctx, bundleID, false); err != nil {
		return err
	}
	s.catalog.InvalidateBundle(bundleID)
	return nil
}

func (s *service) toResponse(bundle domain.CreditBundle) (*domain.BundleResponse, error) {
	price, err := money.FormatCurrency(bundle.PriceCents, bundle.Currency)
	if err != nil {
		return nil, err
	}
	return &domain.BundleResponse{
		ID:                        bundle.ID.String(),
		ProviderID:                bundle.ProviderID.String(),
		Name:                      bundle.Name,
		Slug:                      bundle.Slug,
		Hours:                     bundle.Hours,
		MonthlyHours:              bundle.MonthlyHours,
		PriceCents:                bundle.PriceCents,
		Currency:                  bundle.Currency,
		PriceDisplay:              price,
		BillingType:               bundle.BillingType,
		RecommendedMonthlyMinutes: bundle.RecommendedMonthlyMinutes,
		IsActive:                  bundle.IsActive,
	}, nil
}
