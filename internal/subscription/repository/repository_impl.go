package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) GetByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Where("external_ref = ?", externalRef).First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?, current_period_end = ?, status = ?, updated_at = ?
		 WHERE id = ? AND current_period_start < ?`,
		periodStart,
		periodEnd,
		domain.StatusActive,
		time.Now().UTC(),
		id,
		periodStart,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetCancelAtPeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, cancel bool) error {
	return db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", id).
		Update("cancel_at_period_end", cancel).Error
}

func (r *repo) MarkPastDue(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND current_period_end < ?`,
		domain.StatusPastDue,
		time.Now().UTC(),
		domain.StatusActive,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
