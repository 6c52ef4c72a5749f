package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/invoice/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Upsert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, provider_id, order_id, number, amount_cents, currency,
			status, receipt_ref, issued_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			receipt_ref = CASE
				WHEN invoices.receipt_ref = '' AND excluded.receipt_ref <> '' THEN excluded.receipt_ref
				ELSE invoices.receipt_ref
			END,
			updated_at = excluded.updated_at`,
		invoice.ID,
		invoice.OrgID,
		invoice.ProviderID,
		invoice.OrderID,
		invoice.Number,
		invoice.AmountCents,
		invoice.Currency,
		invoice.Status,
		invoice.ReceiptRef,
		invoice.IssuedAt,
		invoice.CreatedAt,
		invoice.CreatedAt,
	).Error
}

func (r *repository) GetByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := db.WithContext(ctx).First(&invoice, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("issued_at DESC, id DESC").
		Limit(limit).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
