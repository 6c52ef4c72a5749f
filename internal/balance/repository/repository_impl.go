package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/balance/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Aggregate(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, now, soonCutoff time.Time) ([]domain.LotAggregate, error) {
	query := `SELECT
		provider_id,
		COALESCE(SUM(minutes_purchased), 0) AS total_minutes,
		COALESCE(SUM(CASE WHEN status = 'active' AND expires_at >= ? THEN minutes_remaining ELSE 0 END), 0) AS available_minutes,
		COALESCE(SUM(CASE WHEN status = 'active' AND expires_at >= ? AND expires_at <= ? THEN minutes_remaining ELSE 0 END), 0) AS expiring_soon_minutes,
		COALESCE(SUM(CASE WHEN status = 'expired' THEN minutes_remaining ELSE 0 END), 0) AS written_off_minutes
	FROM credit_lots
	WHERE org_id = ?`
	args := []any{now.UTC(), now.UTC(), soonCutoff.UTC(), orgID}
	if providerID != 0 {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	query += ` GROUP BY provider_id ORDER BY provider_id`

	var rows []domain.LotAggregate
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MonthWorkMinutes(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, start, end time.Time) (int64, error) {
	var row struct {
		Total int64 `gorm:"column:total"`
	}
	query := `SELECT COALESCE(SUM(minutes_spent), 0) AS total
		FROM work_logs
		WHERE org_id = ? AND performed_at >= ? AND performed_at < ?`
	args := []any{orgID, start.UTC(), end.UTC()}
	if providerID != 0 {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.Total, nil
}

func (r *repository) PacingLimitMinutes(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) (int64, error) {
	var row struct {
		Cap         int64 `gorm:"column:cap"`
		Recommended int64 `gorm:"column:recommended"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT b.monthly_consumption_cap_minutes AS cap, b.recommended_monthly_minutes AS recommended
		 FROM orders o
		 JOIN credit_bundles b ON b.id = o.bundle_id
		 WHERE o.org_id = ? AND o.provider_id = ? AND o.status = 'paid'
		 ORDER BY o.paid_at DESC
		 LIMIT 1`,
		orgID, providerID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.Cap > 0 {
		return row.Cap, nil
	}
	return row.Recommended, nil
}
