package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/bundle/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, bundle domain.CreditBundle) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO credit_bundles (
			id, provider_id, name, slug, hours, monthly_hours, price_cents, currency,
			billing_type, recommended_monthly_minutes, monthly_consumption_cap_minutes,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bundle.ID,
		bundle.ProviderID,
		bundle.Name,
		bundle.Slug,
		bundle.Hours,
		bundle.MonthlyHours,
		bundle.PriceCents,
		bundle.Currency,
		bundle.BillingType,
		bundle.RecommendedMonthlyMinutes,
		bundle.MonthlyConsumptionCapMinutes,
		bundle.IsActive,
		bundle.CreatedAt,
		bundle.CreatedAt,
	).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.CreditBundle, error) {
	var bundle domain.CreditBundle
	if err := r.db.WithContext(ctx).First(&bundle, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bundle, nil
}

func (r *repository) ListActive(ctx context.Context, providerID snowflake.ID) ([]domain.CreditBundle, error) {
	var bundles []domain.CreditBundle
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if providerID != 0 {
		query = query.Where("provider_id = ?", providerID)
	}
	if err := query.Order("price_cents ASC").Find(&bundles).Error; err != nil {
		return nil, err
	}
	return bundles, nil
}

func (r *repository) SetActive(ctx context.Context, id snowflake.ID, active bool) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE credit_bundles SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id,
	).Error
}
