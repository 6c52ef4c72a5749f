package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER" // Read-only / Limited
)

const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRevoked  = "revoked"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	InviteMembers(ctx context.Context, userID snowflake.ID, orgID string, invites []InviteRequest) error
	AcceptInvite(ctx context.Context, userID snowflake.ID, inviteID string) error
	ListInvites(ctx context.Context, userID snowflake.ID, orgID string) ([]InviteResponseItem, error)
}

type CreateOrganizationRequest struct {
	Name         string
	SupportEmail string
}

type InviteRequest struct {
	Email string
	Role  string
}

type OrganizationResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	SupportEmail string `json:"support_email"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type InviteResponseItem struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInviteNotFound      = errors.New("invite_not_found")
	ErrInviteNotPending    = errors.New("invite_not_pending")
	ErrForbidden           = errors.New("forbidden")
)
