package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/actor"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	obscontext "github.com/flowvane/creditdesk/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Record appends an audit log entry. A write failure is logged and returned,
// but callers treat audit as best-effort and never abort their primary
// operation on it.
func (s *Service) Record(ctx context.Context, orgID snowflake.ID, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if orgID == 0 {
		return auditdomain.ErrInvalidOrganization
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	who := actor.FromContext(ctx)
	actorType := auditdomain.ActorTypeSystem
	var actorID *string
	if who.Type == actor.TypeUser {
		actorType = auditdomain.ActorTypeUser
		id := who.UserID.String()
		actorID = &id
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  time.Now().UTC(),
	}
	if id := strings.TrimSpace(targetID); id != "" {
		entry.TargetID = &id
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	if filter.OrgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	if filter.StartAt != nil && filter.EndAt != nil && filter.StartAt.After(*filter.EndAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}
	return s.repo.List(ctx, s.db, filter)
}
