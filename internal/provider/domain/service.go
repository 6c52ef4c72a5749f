package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RoleProviderAdmin  = "PROVIDER_ADMIN"
	RoleProviderMember = "PROVIDER_MEMBER"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateProvider(ctx context.Context, provider ServiceProvider) error
	GetProvider(ctx context.Context, id snowflake.ID) (*ServiceProvider, error)
	AddMember(ctx context.Context, member ProviderMember) error
	MemberRole(ctx context.Context, providerID, userID snowflake.ID) (string, error)
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateProviderRequest) (*ProviderResponse, error)
	GetByID(ctx context.Context, id string) (*ProviderResponse, error)
	AddMember(ctx context.Context, actorUserID snowflake.ID, providerID string, req AddMemberRequest) error
}

type CreateProviderRequest struct {
	Name         string
	ContactEmail string
}

type AddMemberRequest struct {
	UserID string
	Role   string
}

type ProviderResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ContactEmail string `json:"contact_email"`
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrForbidden       = errors.New("forbidden")
)
