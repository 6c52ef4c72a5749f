package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/worklog/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, workLog *domain.WorkLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO work_logs (
			id, org_id, provider_id, performed_by, performed_at, category,
			description, minutes_spent, deficit_minutes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workLog.ID,
		workLog.OrgID,
		workLog.ProviderID,
		workLog.PerformedBy,
		workLog.PerformedAt,
		workLog.Category,
		workLog.Description,
		workLog.MinutesSpent,
		workLog.DeficitMinutes,
		workLog.CreatedAt,
	).Error
}

func (r *repository) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WorkLog, error) {
	var workLog domain.WorkLog
	if err := db.WithContext(ctx).First(&workLog, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &workLog, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.WorkLog, error) {
	query := db.WithContext(ctx).Where("org_id = ?", filter.OrgID)
	if filter.ProviderID != 0 {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.StartAt != nil {
		query = query.Where("performed_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		query = query.Where("performed_at < ?", filter.EndAt.UTC())
	}

	var workLogs []domain.WorkLog
	err := query.
		Order("performed_at DESC, id DESC").
		Limit(filter.Limit).
		Find(&workLogs).Error
	if err != nil {
		return nil, err
	}
	return workLogs, nil
}
