package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
)

const defaultBundleTTL = 10 * time.Minute

// CatalogCache stores bundle lookups. The catalog changes rarely and is read
// on every checkout and pacing computation.
type CatalogCache interface {
	GetBundle(id snowflake.ID) (*bundledomain.CreditBundle, bool)
	SetBundle(bundle *bundledomain.CreditBundle)
	InvalidateBundle(id snowflake.ID)
}

type catalogCache struct {
	bundles   Cache[snowflake.ID, *bundledomain.CreditBundle]
	bundleTTL time.Duration
}

func NewCatalogCache() CatalogCache {
	return &catalogCache{
		bundles:   NewTTLCache[snowflake.ID, *bundledomain.CreditBundle](),
		bundleTTL: defaultBundleTTL,
	}
}

func (c *catalogCache) GetBundle(id snowflake.ID) (*bundledomain.CreditBundle, bool) {
	return c.bundles.Get(id)
}

func (c *catalogCache) SetBundle(bundle *bundledomain.CreditBundle) {
	if bundle == nil || bundle.ID == 0 {
		return
	}
	c.bundles.Set(bundle.ID, bundle, c.bundleTTL)
}

func (c *catalogCache) InvalidateBundle(id snowflake.ID) {
	c.bundles.Delete(id)
}
