package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	AddMember(ctx context.Context, member OrganizationMember) error
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]OrganizationMember, error)
	MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error)
	CreateInvites(ctx context.Context, invites []OrganizationInvite) error
	GetInvite(ctx context.Context, inviteID snowflake.ID) (*OrganizationInvite, error)
	UpdateInviteStatus(ctx context.Context, inviteID snowflake.ID, fromStatus, toStatus string) (bool, error)
	ListInvites(ctx context.Context, orgID snowflake.ID) ([]OrganizationInvite, error)
}
