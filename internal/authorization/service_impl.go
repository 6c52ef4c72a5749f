// Package authorization enforces role-based capability checks before core
// credit operations run. Policies live in the database through the casbin
// gorm adapter; roles come from organization and provider membership.
package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/flowvane/creditdesk/internal/actor"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectBalance   = "balance"
	ObjectLedger    = "ledger"
	ObjectWorkLog   = "work_log"
	ObjectOrder     = "order"
	ObjectBundle    = "bundle"
	ObjectInvite    = "invite"
	ObjectAuditLog  = "audit_log"
	ObjectInvoice   = "invoice"
	ObjectAPIKey    = "api_key"
	ObjectLot       = "credit_lot"
	ObjectOrgMember = "org_member"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionManage = "manage"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
)

type Service interface {
	// Authorize checks that who may perform action on object within org.
	Authorize(ctx context.Context, who actor.Actor, orgID snowflake.ID, object, action string) error
	// AuthorizeProvider checks provider-side membership capabilities
	// (logging work for a provider).
	AuthorizeProvider(ctx context.Context, who actor.Actor, providerID snowflake.ID, object, action string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, who actor.Actor, orgID snowflake.ID, object, action string) error {
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	if who.IsSystem() {
		return nil
	}
	if who.UserID == 0 {
		return ErrInvalidActor
	}

	role, err := s.orgRole(ctx, orgID, who.UserID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID.String())
	subject := fmt.Sprintf("user:%s", who.UserID.String())
	roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) AuthorizeProvider(ctx context.Context, who actor.Actor, providerID snowflake.ID, object, action string) error {
	if providerID == 0 {
		return ErrInvalidOrganization
	}
	if who.IsSystem() {
		return nil
	}
	if who.UserID == 0 {
		return ErrInvalidActor
	}

	role, err := s.providerRole(ctx, providerID, who.UserID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("provider:%s", providerID.String())
	subject := fmt.Sprintf("user:%s", who.UserID.String())
	roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) orgRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM organization_members WHERE org_id = ? AND user_id = ? LIMIT 1`,
		orgID, userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) providerRole(ctx context.Context, providerID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM provider_members WHERE provider_id = ? AND user_id = ? LIMIT 1`,
		providerID, userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	// Role policies apply in every domain via the wildcard.
	policies := [][]string{
		{"role:owner", "*", ObjectBalance, ActionView},
		{"role:owner", "*", ObjectLedger, ActionView},
		{"role:owner", "*", ObjectOrder, ActionCreate},
		{"role:owner", "*", ObjectOrder, ActionView},
		{"role:owner", "*", ObjectBundle, ActionView},
		{"role:owner", "*", ObjectInvite, ActionView},
		{"role:owner", "*", ObjectInvite, ActionManage},
		{"role:owner", "*", ObjectAuditLog, ActionView},
		{"role:owner", "*", ObjectInvoice, ActionView},
		{"role:owner", "*", ObjectOrgMember, ActionManage},

		{"role:admin", "*", ObjectBalance, ActionView},
		{"role:admin", "*", ObjectLedger, ActionView},
		{"role:admin", "*", ObjectOrder, ActionCreate},
		{"role:admin", "*", ObjectOrder, ActionView},
		{"role:admin", "*", ObjectBundle, ActionView},
		{"role:admin", "*", ObjectInvite, ActionView},
		{"role:admin", "*", ObjectInvite, ActionManage},
		{"role:admin", "*", ObjectAuditLog, ActionView},
		{"role:admin", "*", ObjectInvoice, ActionView},

		{"role:member", "*", ObjectBalance, ActionView},
		{"role:member", "*", ObjectBundle, ActionView},
		{"role:member", "*", ObjectOrder, ActionView},

		{"role:provider_admin", "*", ObjectWorkLog, ActionCreate},
		{"role:provider_admin", "*", ObjectWorkLog, ActionView},
		{"role:provider_admin", "*", ObjectAPIKey, ActionManage},
		{"role:provider_admin", "*", ObjectLot, ActionView},

		{"role:provider_member", "*", ObjectWorkLog, ActionCreate},
		{"role:provider_member", "*", ObjectWorkLog, ActionView},
	}

	for _, policy := range policies {
		if len(policy) < 4 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
