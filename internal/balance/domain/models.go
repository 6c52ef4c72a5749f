// Package domain defines the read-side balance view. Balances are always
// derived from lots and the ledger, never stored, so there is no balance row
// to drift out of sync.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Balance is the aggregate for one (org, provider) pair.
//
// TotalMinutes is gross minutes ever issued. AvailableMinutes is the
// remainder over active non-expired lots and is never negative.
// UsedMinutes excludes write-offs: used + available + writtenOff == total.
type Balance struct {
	OrgID               snowflake.ID `json:"org_id"`
	ProviderID          snowflake.ID `json:"provider_id"`
	TotalMinutes        int64        `json:"total_minutes"`
	UsedMinutes         int64        `json:"used_minutes"`
	AvailableMinutes    int64        `json:"available_minutes"`
	ExpiringSoonMinutes int64        `json:"expiring_soon_minutes"`
	WrittenOffMinutes   int64        `json:"written_off_minutes"`
}

// Pacing reports month-to-date consumption against the bundle's monthly
// reference. Read-side only: logging work is never blocked by pacing.
type Pacing struct {
	LimitMinutes     int64   `json:"limit_minutes"`
	MonthUsedMinutes int64   `json:"month_used_minutes"`
	Percent          float64 `json:"percent"`
	Warning          bool    `json:"warning"`
	Exceeded         bool    `json:"exceeded"`
}

// LotAggregate is one row of the grouped lot rollup.
type LotAggregate struct {
	ProviderID          snowflake.ID
	TotalMinutes        int64
	AvailableMinutes    int64
	ExpiringSoonMinutes int64
	WrittenOffMinutes   int64
}

type Repository interface {
	// Aggregate rolls lots up per provider. providerID 0 means all providers
	// for the org.
	Aggregate(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, now, soonCutoff time.Time) ([]LotAggregate, error)
	// MonthWorkMinutes sums work log minutes in [start, end).
	MonthWorkMinutes(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID, start, end time.Time) (int64, error)
	// PacingLimitMinutes resolves the monthly reference from the bundle of
	// the org's most recent paid order with this provider. Zero means no
	// reference is configured.
	PacingLimitMinutes(ctx context.Context, db *gorm.DB, orgID, providerID snowflake.ID) (int64, error)
}

type Service interface {
	// GetBalance computes the aggregate for one (org, provider) pair. The
	// lazy expiry sweep runs first so stale lots never inflate availability.
	GetBalance(ctx context.Context, orgID, providerID snowflake.ID) (*Balance, error)
	// GetBalances returns one balance per provider the org holds lots with,
	// plus the cross-provider sum as a plain addition of the parts.
	GetBalances(ctx context.Context, orgID snowflake.ID) ([]Balance, *Balance, error)
	GetPacing(ctx context.Context, orgID, providerID snowflake.ID) (*Pacing, error)
}

var ErrInvalidOrganization = errors.New("invalid_organization")
