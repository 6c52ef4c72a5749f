package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/invoice/domain"
	"github.com/flowvane/creditdesk/internal/money"
	"github.com/flowvane/creditdesk/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	PDF   pdf.Provider
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	pdf   pdf.Provider
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		pdf:   p.PDF,
	}
}

func (s *service) UpsertForOrderTx(ctx context.Context, tx *gorm.DB, req domain.UpsertRequest) error {
	if req.OrgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if req.OrderID == 0 {
		return domain.ErrInvalidOrder
	}

	now := s.clock.Now()
	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}

	invoice := &domain.Invoice{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		ProviderID:  req.ProviderID,
		OrderID:     req.OrderID,
		Number:      invoiceNumber(issuedAt, req.OrderID),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      domain.StatusPaid,
		ReceiptRef:  strings.TrimSpace(req.ReceiptRef),
		IssuedAt:    issuedAt.UTC(),
		CreatedAt:   now,
	}
	return s.repo.Upsert(ctx, tx, invoice)
}

func (s *service) AttachReceipt(ctx context.Context, orderID snowflake.ID, receiptRef string) error {
	if orderID == 0 {
		return domain.ErrInvalidOrder
	}
	receiptRef = strings.TrimSpace(receiptRef)
	if receiptRef == "" {
		return nil
	}

	return s.db.WithContext(ctx).Exec(
		`UPDATE invoices SET receipt_ref = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE order_id = ? AND receipt_ref = ''`,
		receiptRef, orderID,
	).Error
}

func (s *service) GetByOrder(ctx context.Context, orgID, orderID snowflake.ID) (*domain.Invoice, error) {
	if orderID == 0 {
		return nil, domain.ErrInvalidOrder
	}

	invoice, err := s.repo.GetByOrder(ctx, s.db, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if orgID != 0 && invoice.OrgID != orgID {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *service) ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.Invoice, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByOrg(ctx, s.db, orgID, limit)
}

func (s *service) RenderReceipt(ctx context.Context, orgID, orderID snowflake.ID) (io.Reader, error) {
	invoice, err := s.GetByOrder(ctx, orgID, orderID)
	if err != nil {
		return nil, err
	}

	var row struct {
		OrgName      string `gorm:"column:org_name"`
		SupportEmail string `gorm:"column:support_email"`
		ProviderName string `gorm:"column:provider_name"`
		BundleName   string `gorm:"column:bundle_name"`
		Hours        int64  `gorm:"column:hours"`
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT org.name AS org_name, org.support_email, sp.name AS provider_name,
		        b.name AS bundle_name, b.hours
		 FROM orders o
		 JOIN organizations org ON org.id = o.org_id
		 JOIN service_providers sp ON sp.id = o.provider_id
		 JOIN credit_bundles b ON b.id = o.bundle_id
		 WHERE o.id = ?`,
		orderID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	total, err := money.FormatCurrency(invoice.AmountCents, invoice.Currency)
	if err != nil {
		return nil, err
	}

	return s.pdf.GenerateReceipt(ctx, pdf.ReceiptData{
		ReceiptNumber: invoice.Number,
		DatePaid:      invoice.IssuedAt.Format("Jan 2, 2006"),
		OrgName:       row.OrgName,
		ProviderName:  row.ProviderName,
		SupportEmail:  row.SupportEmail,
		BundleName:    row.BundleName,
		Hours:         fmt.Sprintf("%d", row.Hours),
		Total:         total,
	})
}

func invoiceNumber(issuedAt time.Time, orderID snowflake.ID) string {
	return fmt.Sprintf("CD-%s-%d", issuedAt.UTC().Format("200601"), orderID)
}
