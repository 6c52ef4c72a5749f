package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/organization/domain"
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

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, slug, support_email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.SupportEmail,
		org.CreatedAt,
		org.CreatedAt,
	).Error
}

func (r *repository) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	if err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.OrgID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repository) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, m.role, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.org_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY o.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repository) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.OrganizationMember, error) {
	var members []domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repository) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT role FROM organization_members WHERE org_id = ? AND user_id = ? LIMIT 1`,
		orgID, userID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return row.Role, nil
}

func (r *repository) CreateInvites(ctx context.Context, invites []domain.OrganizationInvite) error {
	for _, invite := range invites {
		err := r.db.WithContext(ctx).Exec(
			`INSERT INTO organization_invites (id, org_id, email, role, status, invited_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			invite.ID,
			invite.OrgID,
			invite.Email,
			invite.Role,
			invite.Status,
			invite.InvitedBy,
			invite.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) GetInvite(ctx context.Context, inviteID snowflake.ID) (*domain.OrganizationInvite, error) {
	var invite domain.OrganizationInvite
	if err := r.db.WithContext(ctx).First(&invite, "id = ?", inviteID).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) UpdateInviteStatus(ctx context.Context, inviteID snowflake.ID, fromStatus, toStatus string) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE organization_invites SET status = ? WHERE id = ? AND status = ?`,
		toStatus, inviteID, fromStatus,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListInvites(ctx context.Context, orgID snowflake.ID) ([]domain.OrganizationInvite, error) {
	var invites []domain.OrganizationInvite
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}
