package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	organizationdomain "github.com/flowvane/creditdesk/internal/organization/domain"
	providerdomain "github.com/flowvane/creditdesk/internal/provider/domain"
	"gorm.io/gorm"
)

const (
	defaultProviderName  = "Flowvane Studio"
	defaultProviderSlug  = "flowvane-studio"
	defaultProviderEmail = "hello@flowvane.dev"

	defaultOrgName  = "Sandbox"
	defaultOrgSlug  = "sandbox"
	defaultOrgEmail = "sandbox@flowvane.dev"
)

// EnsureDefaults seeds the default provider, a sandbox organization, and the
// starter bundle catalog. Safe to run on every startup.
func EnsureDefaults(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		provider, err := ensureProviderTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if _, err := ensureSandboxOrgTx(ctx, tx, node); err != nil {
			return err
		}
		return ensureStarterBundles(ctx, tx, node, provider.ID)
	})
}

func ensureProviderTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (providerdomain.ServiceProvider, error) {
	var provider providerdomain.ServiceProvider
	err := tx.WithContext(ctx).Where("slug = ?", defaultProviderSlug).First(&provider).Error
	if err == nil {
		return provider, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return provider, err
	}
	now := time.Now().UTC()
	provider = providerdomain.ServiceProvider{
		ID:           node.Generate(),
		Name:         defaultProviderName,
		Slug:         defaultProviderSlug,
		ContactEmail: defaultProviderEmail,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&provider).Error; err != nil {
		return provider, err
	}
	return provider, nil
}

func ensureSandboxOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}
	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:           node.Generate(),
		Name:         defaultOrgName,
		Slug:         defaultOrgSlug,
		SupportEmail: defaultOrgEmail,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func ensureStarterBundles(ctx context.Context, tx *gorm.DB, node *snowflake.Node, providerID snowflake.ID) error {
	type bundle struct {
		Slug         string
		Name         string
		Hours        int64
		MonthlyHours int64
		PriceCents   int64
		BillingType  string
		Recommended  int64
	}

	bundles := []bundle{
		{"starter-10", "Starter 10", 10, 0, 120_000, bundledomain.BillingTypeOneTime, 300},
		{"growth-25", "Growth 25", 25, 0, 275_000, bundledomain.BillingTypeOneTime, 600},
		{"retainer-10", "Retainer 10", 0, 10, 110_000, bundledomain.BillingTypeRecurring, 600},
	}

	for _, b := range bundles {
		err := tx.WithContext(ctx).
			Exec(`
				INSERT INTO credit_bundles (id, provider_id, name, slug, hours, monthly_hours, price_cents, currency, billing_type, recommended_monthly_minutes, monthly_consumption_cap_minutes, is_active, metadata)
				VALUES (?, ?, ?, ?, ?, ?, ?, 'USD', ?, ?, 0, TRUE, '{}')
				ON CONFLICT (slug) DO NOTHING
			`,
				node.Generate(),
				providerID,
				b.Name,
				b.Slug,
				b.Hours,
				b.MonthlyHours,
				b.PriceCents,
				b.BillingType,
				b.Recommended,
			).Error

		if err != nil {
			return err
		}
	}

	return nil
}
