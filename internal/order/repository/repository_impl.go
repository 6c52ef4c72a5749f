package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/order/domain"
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

func (r *repository) Create(ctx context.Context, order domain.Order) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO orders (id, org_id, provider_id, bundle_id, minutes, amount_cents, currency, status, checkout_session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrgID,
		order.ProviderID,
		order.BundleID,
		order.Minutes,
		order.AmountCents,
		order.Currency,
		order.Status,
		order.CheckoutSessionID,
		order.CreatedAt,
		order.CreatedAt,
	).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetByCheckoutSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	var order domain.Order
	if err := r.db.WithContext(ctx).First(&order, "checkout_session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CompareAndSwapStatus(ctx context.Context, id snowflake.ID, transition domain.StatusTransition) (bool, error) {
	updates := map[string]any{
		"status":     transition.To,
		"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
	}
	if transition.CheckoutSessionID != "" {
		updates["checkout_session_id"] = transition.CheckoutSessionID
	}
	if transition.PaymentIntentRef != "" {
		updates["payment_intent_ref"] = transition.PaymentIntentRef
	}
	if transition.PaidAt != nil {
		updates["paid_at"] = *transition.PaidAt
	}

	tx := r.db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, transition.From).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
