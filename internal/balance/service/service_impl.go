package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/balance/domain"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Lots       creditlotdomain.Service
	Policy     *config.CreditPolicyHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	lots       creditlotdomain.Service
	policy     *config.CreditPolicyHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("balance.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		lots:       p.Lots,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *service) GetBalance(ctx context.Context, orgID, providerID snowflake.ID) (*domain.Balance, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	balances, err := s.aggregate(ctx, orgID, providerID)
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return &domain.Balance{OrgID: orgID, ProviderID: providerID}, nil
	}

	total := sumBalances(orgID, providerID, balances)
	return &total, nil
}

func (s *service) GetBalances(ctx context.Context, orgID snowflake.ID) ([]domain.Balance, *domain.Balance, error) {
	if orgID == 0 {
		return nil, nil, domain.ErrInvalidOrganization
	}

	balances, err := s.aggregate(ctx, orgID, 0)
	if err != nil {
		return nil, nil, err
	}

	total := sumBalances(orgID, 0, balances)
	return balances, &total, nil
}

func (s *service) GetPacing(ctx context.Context, orgID, providerID snowflake.ID) (*domain.Pacing, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	limit, err := s.repo.PacingLimitMinutes(ctx, s.db, orgID, providerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return &domain.Pacing{}, nil
	}

	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	used, err := s.repo.MonthWorkMinutes(ctx, s.db, orgID, providerID, start, end)
	if err != nil {
		return nil, err
	}

	percent := float64(used) / float64(limit) * 100
	if percent > 100 {
		percent = 100
	}
	exceeded := used > limit
	warnAt := float64(s.policy.Get().PacingWarningPercent)

	return &domain.Pacing{
		LimitMinutes:     limit,
		MonthUsedMinutes: used,
		Percent:          percent,
		Warning:          percent >= warnAt && !exceeded,
		Exceeded:         exceeded,
	}, nil
}

func (s *service) aggregate(ctx context.Context, orgID, providerID snowflake.ID) ([]domain.Balance, error) {
	now := s.clock.Now()

	// Lazy sweep so a lot past its expiry never counts as available, even
	// between scheduler runs.
	if _, err := s.lots.ExpireDue(ctx, now); err != nil {
		s.log.Warn("lazy expiry sweep failed", zap.Error(err))
	}

	soonCutoff := now.Add(time.Duration(s.policy.Get().ExpiringSoonDays) * 24 * time.Hour)
	rows, err := s.repo.Aggregate(ctx, s.db, orgID, providerID, now, soonCutoff)
	if err != nil {
		return nil, err
	}

	balances := make([]domain.Balance, 0, len(rows))
	for _, row := range rows {
		balance := domain.Balance{
			OrgID:               orgID,
			ProviderID:          row.ProviderID,
			TotalMinutes:        row.TotalMinutes,
			AvailableMinutes:    row.AvailableMinutes,
			ExpiringSoonMinutes: row.ExpiringSoonMinutes,
			WrittenOffMinutes:   row.WrittenOffMinutes,
		}
		balance.UsedMinutes = balance.TotalMinutes - balance.AvailableMinutes - balance.WrittenOffMinutes

		if balance.AvailableMinutes < 0 || balance.UsedMinutes < 0 {
			s.log.Error("negative balance computed",
				zap.String("org_id", orgID.String()),
				zap.String("provider_id", row.ProviderID.String()),
				zap.Int64("available_minutes", balance.AvailableMinutes),
				zap.Int64("used_minutes", balance.UsedMinutes),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordInvariantViolation("negative_balance")
			}
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func sumBalances(orgID, providerID snowflake.ID, balances []domain.Balance) domain.Balance {
	total := domain.Balance{OrgID: orgID, ProviderID: providerID}
	for _, balance := range balances {
		total.TotalMinutes += balance.TotalMinutes
		total.UsedMinutes += balance.UsedMinutes
		total.AvailableMinutes += balance.AvailableMinutes
		total.ExpiringSoonMinutes += balance.ExpiringSoonMinutes
		total.WrittenOffMinutes += balance.WrittenOffMinutes
	}
	return total
}
