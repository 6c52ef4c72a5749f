package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/creditlot/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, lot *domain.CreditLot) (bool, error) {
	query := `INSERT INTO credit_lots (
		id, org_id, provider_id, order_id, minutes_purchased, minutes_remaining,
		status, purchased_at, expires_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if lot.OrderID != nil {
		query += ` ON CONFLICT (order_id) DO NOTHING`
	}

	result := db.WithContext(ctx).Exec(
		query,
		lot.ID,
		lot.OrgID,
		lot.ProviderID,
		lot.OrderID,
		lot.MinutesPurchased,
		lot.MinutesRemaining,
		lot.Status,
		lot.PurchasedAt,
		lot.ExpiresAt,
		lot.CreatedAt,
		lot.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CreditLot, error) {
	var lot domain.CreditLot
	if err := db.WithContext(ctx).First(&lot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *repository) GetByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.CreditLot, error) {
	var lot domain.CreditLot
	if err := db.WithContext(ctx).First(&lot, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *repository) ActiveLots(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, now time.Time) ([]domain.CreditLot, error) {
	var lots []domain.CreditLot
	query := db.WithContext(ctx).
		Where("org_id = ? AND status = ? AND expires_at >= ?", orgID, domain.StatusActive, now.UTC())
	if providerID != 0 {
		query = query.Where("provider_id = ?", providerID)
	}
	err := query.Order("expires_at ASC, id ASC").Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *repository) Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, minutes int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_lots
		 SET minutes_remaining = minutes_remaining - ?,
		     status = CASE WHEN minutes_remaining - ? = 0 THEN ? ELSE status END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND minutes_remaining >= ?`,
		minutes,
		minutes,
		domain.StatusExhausted,
		id,
		domain.StatusActive,
		minutes,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DueForExpiry includes exhausted lots: a lot whose expiry passes after its
// minutes ran out still ends up expired, it just has nothing to write off.
func (r *repository) DueForExpiry(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.CreditLot, error) {
	var lots []domain.CreditLot
	err := db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []string{domain.StatusActive, domain.StatusExhausted}, now.UTC()).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *repository) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedRemaining int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_lots
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN ? AND minutes_remaining = ?`,
		domain.StatusExpired,
		id,
		[]string{domain.StatusActive, domain.StatusExhausted},
		expectedRemaining,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListByOrg(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) ([]domain.CreditLot, error) {
	var lots []domain.CreditLot
	query := db.WithContext(ctx).Where("org_id = ?", orgID)
	if providerID != 0 {
		query = query.Where("provider_id = ?", providerID)
	}
	err := query.Order("expires_at ASC, id ASC").Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}
