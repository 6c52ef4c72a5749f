package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/provider/domain"
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

func (r *repository) CreateProvider(ctx context.Context, provider domain.ServiceProvider) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO service_providers (id, name, slug, contact_email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		provider.ID,
		provider.Name,
		provider.Slug,
		provider.ContactEmail,
		provider.CreatedAt,
		provider.CreatedAt,
	).Error
}

func (r *repository) GetProvider(ctx context.Context, id snowflake.ID) (*domain.ServiceProvider, error) {
	var provider domain.ServiceProvider
	if err := r.db.WithContext(ctx).First(&provider, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.ProviderMember) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO provider_members (id, provider_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.ProviderID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repository) MemberRole(ctx context.Context, providerID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT role FROM provider_members WHERE provider_id = ? AND user_id = ? LIMIT 1`,
		providerID, userID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return row.Role, nil
}
