package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/provider/domain"
	"github.com/gosimple/slug"
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
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("provider.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateProviderRequest) (*domain.ProviderResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	contactEmail := strings.TrimSpace(req.ContactEmail)
	if contactEmail != "" {
		if _, err := mail.ParseAddress(contactEmail); err != nil {
			return nil, domain.ErrInvalidEmail
		}
	}

	now := s.clock.Now()
	providerID := s.genID.Generate()
	provider := domain.ServiceProvider{
		ID:           providerID,
		Name:         name,
		Slug:         slug.Make(name),
		ContactEmail: contactEmail,
		CreatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateProvider(ctx, provider); err != nil {
			return err
		}
		member := domain.ProviderMember{
			ID:         s.genID.Generate(),
			ProviderID: providerID,
			UserID:     userID,
			Role:       domain.RoleProviderAdmin,
			CreatedAt:  now,
		}
		return repo.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResponse{
		ID:           providerID.String(),
		Name:         name,
		Slug:         provider.Slug,
		ContactEmail: contactEmail,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.ProviderResponse, error) {
	providerID, err := parseProviderID(id)
	if err != nil {
		return nil, err
	}

	provider, err := s.repo.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResponse{
		ID:           provider.ID.String(),
		Name:         provider.Name,
		Slug:         provider.Slug,
		ContactEmail: provider.ContactEmail,
	}, nil
}

func (s *service) AddMember(ctx context.Context, actorUserID snowflake.ID, providerID string, req domain.AddMemberRequest) error {
	if actorUserID == 0 {
		return domain.ErrInvalidUser
	}
	id, err := parseProviderID(providerID)
	if err != nil {
		return err
	}

	role, err := s.repo.MemberRole(ctx, id, actorUserID)
	if err != nil {
		return err
	}
	if strings.ToUpper(strings.TrimSpace(role)) != domain.RoleProviderAdmin {
		return domain.ErrForbidden
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		return domain.ErrInvalidUser
	}
	newRole := strings.ToUpper(strings.TrimSpace(req.Role))
	if newRole != domain.RoleProviderAdmin && newRole != domain.RoleProviderMember {
		return domain.ErrInvalidRole
	}

	member := domain.ProviderMember{
		ID:         s.genID.Generate(),
		ProviderID: id,
		UserID:     userID,
		Role:       newRole,
		CreatedAt:  s.clock.Now(),
	}
	return s.repo.AddMember(ctx, member)
}

func parseProviderID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInvalidProvider
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, domain.ErrInvalidProvider
	}
	return id, nil
}
