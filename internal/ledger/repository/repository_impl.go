package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/ledger/domain"
	"github.com/flowvane/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO credit_ledger_entries (
			id, org_id, provider_id, entry_type, minutes_delta, reason_code, dedupe_key,
			related_order_id, related_lot_id, related_work_log_id, actor_type, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, reason_code, dedupe_key) DO NOTHING`,
		entry.ID,
		entry.OrgID,
		entry.ProviderID,
		string(entry.EntryType),
		entry.MinutesDelta,
		string(entry.ReasonCode),
		entry.DedupeKey,
		entry.RelatedOrderID,
		entry.RelatedLotID,
		entry.RelatedWorkLogID,
		entry.ActorType,
		entry.Notes,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.LedgerEntry, error) {
	query := db.WithContext(ctx).Where("org_id = ?", filter.OrgID)
	if filter.ProviderID != 0 {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ReasonCode != "" {
		query = query.Where("reason_code = ?", string(filter.ReasonCode))
	}
	if filter.StartAt != nil {
		query = query.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		query = query.Where("created_at < ?", filter.EndAt.UTC())
	}
	if filter.Cursor != "" {
		cursor, err := pagination.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		if cursor.CreatedAt != "" && cursor.ID != "" {
			createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return nil, err
			}
			id, err := strconv.ParseInt(cursor.ID, 10, 64)
			if err != nil {
				return nil, err
			}
			query = query.Where(
				"(created_at < ?) OR (created_at = ? AND id < ?)",
				createdAt, createdAt, snowflake.ID(id),
			)
		}
	}

	var entries []domain.LedgerEntry
	err := query.
		Order("created_at DESC, id DESC").
		Limit(filter.Limit + 1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SignedSum(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) (int64, error) {
	var row struct {
		Total int64 `gorm:"column:total"`
	}
	query := `SELECT COALESCE(SUM(minutes_delta), 0) AS total FROM credit_ledger_entries WHERE org_id = ?`
	args := []any{orgID}
	if providerID != 0 {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.Total, nil
}
