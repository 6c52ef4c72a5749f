// Package domain contains the credit bundle catalog: purchasable packages of
// prepaid service hours. Bundles are templates only; issued lots snapshot
// their minutes at creation, so catalog edits never change past grants.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BillingTypeOneTime   = "one_time"
	BillingTypeRecurring = "recurring"
)

// CreditBundle is a sellable package of hours. One-time bundles grant Hours
// once at fulfillment; recurring bundles grant MonthlyHours each renewal.
type CreditBundle struct {
	ID                           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProviderID                   snowflake.ID      `gorm:"not null;index" json:"provider_id"`
	Name                         string            `gorm:"type:text;not null" json:"name"`
	Slug                         string            `gorm:"type:text;not null;uniqueIndex:ux_credit_bundles_slug" json:"slug"`
	Hours                        int64             `gorm:"not null" json:"hours"`
	MonthlyHours                 int64             `gorm:"column:monthly_hours;not null;default:0" json:"monthly_hours"`
	PriceCents                   int64             `gorm:"column:price_cents;not null" json:"price_cents"`
	Currency                     string            `gorm:"type:text;not null" json:"currency"`
	BillingType                  string            `gorm:"type:text;column:billing_type;not null" json:"billing_type"`
	RecommendedMonthlyMinutes    int64             `gorm:"column:recommended_monthly_minutes;not null;default:0" json:"recommended_monthly_minutes"`
	MonthlyConsumptionCapMinutes int64             `gorm:"column:monthly_consumption_cap_minutes;not null;default:0" json:"monthly_consumption_cap_minutes"`
	IsActive                     bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	Metadata                     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt                    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt                    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditBundle) TableName() string { return "credit_bundles" }

// GrantMinutes is the lot size a fulfillment of this bundle issues.
func (b CreditBundle) GrantMinutes() int64 { return b.Hours * 60 }

// RenewalMinutes is the lot size one renewal period issues.
func (b CreditBundle) RenewalMinutes() int64 { return b.MonthlyHours * 60 }

// PacingLimitMinutes is the monthly consumption reference for pacing. The cap
// wins when both are set.
func (b CreditBundle) PacingLimitMinutes() int64 {
	if b.MonthlyConsumptionCapMinutes > 0 {
		return b.MonthlyConsumptionCapMinutes
	}
	return b.RecommendedMonthlyMinutes
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, bundle CreditBundle) error
	Get(ctx context.Context, id snowflake.ID) (*CreditBundle, error)
	ListActive(ctx context.Context, providerID snowflake.ID) ([]CreditBundle, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool) error
}

type Service interface {
	Create(ctx context.Context, req CreateBundleRequest) (*BundleResponse, error)
	GetByID(ctx context.Context, id string) (*BundleResponse, error)
	ListActive(ctx context.Context, providerID string) ([]BundleResponse, error)
	Deactivate(ctx context.Context, id string) error
}

type CreateBundleRequest struct {
	ProviderID                   string
	Name                         string
	Hours                        int64
	MonthlyHours                 int64
	PriceCents                   int64
	Currency                     string
	BillingType                  string
	RecommendedMonthlyMinutes    int64
	MonthlyConsumptionCapMinutes int64
}

// BundleResponse carries display-ready hours and price alongside the raw
// integer fields.
type BundleResponse struct {
	ID                        string `json:"id"`
	ProviderID                string `json:"provider_id"`
	Name                      string `json:"name"`
	Slug                      string `json:"slug"`
	Hours                     int64  `json:"hours"`
	MonthlyHours              int64  `json:"monthly_hours,omitempty"`
	PriceCents                int64  `json:"price_cents"`
	Currency                  string `json:"currency"`
	PriceDisplay              string `json:"price_display"`
	BillingType               string `json:"billing_type"`
	RecommendedMonthlyMinutes int64  `json:"recommended_monthly_minutes,omitempty"`
	IsActive                  bool   `json:"is_active"`
}

var (
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidHours       = errors.New("invalid_hours")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidBillingType = errors.New("invalid_billing_type")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrInvalidBundle      = errors.New("invalid_bundle")
	ErrBundleInactive     = errors.New("bundle_inactive")
)
