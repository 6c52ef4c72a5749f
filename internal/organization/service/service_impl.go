package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/events"
	"github.com/flowvane/creditdesk/internal/organization/domain"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Outbox *events.Outbox
	Audit  auditdomain.Service
}

type service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	outbox *events.Outbox
	audit  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:     p.DB,
		log:    p.Log.Named("organization.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		outbox: p.Outbox,
		audit:  p.Audit,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	supportEmail := strings.TrimSpace(req.SupportEmail)
	if supportEmail != "" {
		if _, err := mail.ParseAddress(supportEmail); err != nil {
			return nil, domain.ErrInvalidEmail
		}
	}

	now := s.clock.Now()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:           orgID,
		Name:         name,
		Slug:         slug.Make(name),
		SupportEmail: supportEmail,
		CreatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		}
		return repo.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, orgID, "organization.created", "organization", orgID.String(), map[string]any{
		"name": name,
		"slug": org.Slug,
	}); err != nil {
		s.log.Warn("failed to record organization.created audit", zap.Error(err))
	}

	return &domain.OrganizationResponse{
		ID:           orgID.String(),
		Name:         name,
		Slug:         org.Slug,
		SupportEmail: supportEmail,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		SupportEmail: org.SupportEmail,
	}, nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

func (s *service) InviteMembers(ctx context.Context, userID snowflake.ID, orgID string, invites []domain.InviteRequest) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	id, err := parseOrgID(orgID)
	if err != nil {
		return err
	}
	if len(invites) == 0 {
		return domain.ErrInvalidEmail
	}

	if err := s.requireAdmin(ctx, id, userID); err != nil {
		return err
	}

	now := s.clock.Now()
	rows := make([]domain.OrganizationInvite, 0, len(invites))
	for _, invite := range invites {
		email := strings.TrimSpace(strings.ToLower(invite.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.ErrInvalidEmail
		}
		role := strings.ToUpper(strings.TrimSpace(invite.Role))
		if role != domain.RoleAdmin && role != domain.RoleMember {
			return domain.ErrInvalidRole
		}
		rows = append(rows, domain.OrganizationInvite{
			ID:        s.genID.Generate(),
			OrgID:     id,
			Email:     email,
			Role:      role,
			Status:    domain.InviteStatusPending,
			InvitedBy: userID,
			CreatedAt: now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateInvites(ctx, rows); err != nil {
			return err
		}
		for _, row := range rows {
			event := events.Event{
				OrgID: id,
				Type:  events.EventInviteCreated,
				Payload: map[string]any{
					"invite_id": row.ID.String(),
					"email":     row.Email,
					"role":      row.Role,
				},
				DedupeKey: "invite_created:" + row.ID.String(),
			}
			if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.audit.Record(ctx, id, "organization.invited", "organization_invite", "", map[string]any{
		"count": len(rows),
	}); err != nil {
		s.log.Warn("failed to record organization.invited audit", zap.Error(err))
	}

	return nil
}

func (s *service) AcceptInvite(ctx context.Context, userID snowflake.ID, inviteID string) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	id, err := snowflake.ParseString(strings.TrimSpace(inviteID))
	if err != nil {
		return domain.ErrInviteNotFound
	}

	invite, err := s.repo.GetInvite(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ErrInviteNotFound
		}
		return err
	}
	if invite.Status != domain.InviteStatusPending {
		return domain.ErrInviteNotPending
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updated, err := repo.UpdateInviteStatus(ctx, invite.ID, domain.InviteStatusPending, domain.InviteStatusAccepted)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrInviteNotPending
		}
		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     invite.OrgID,
			UserID:    userID,
			Role:      invite.Role,
			CreatedAt: s.clock.Now(),
		}
		return repo.AddMember(ctx, member)
	})
}

// ListInvites is restricted to admins: pending invites reveal member email
// addresses.
func (s *service) ListInvites(ctx context.Context, userID snowflake.ID, orgID string) ([]domain.InviteResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if err := s.requireAdmin(ctx, id, userID); err != nil {
		return nil, err
	}

	invites, err := s.repo.ListInvites(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.InviteResponseItem, 0, len(invites))
	for _, invite := range invites {
		resp = append(resp, domain.InviteResponseItem{
			ID:        invite.ID.String(),
			Email:     invite.Email,
			Role:      invite.Role,
			Status:    invite.Status,
			CreatedAt: invite.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) requireAdmin(ctx context.Context, orgID, userID snowflake.ID) error {
	role, err := s.repo.MemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case domain.RoleOwner, domain.RoleAdmin:
		return nil
	}
	return domain.ErrForbidden
}

func parseOrgID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, domain.ErrInvalidOrganization
	}
	return id, nil
}
