// Serve-only deployment: the HTTP API without the background jobs. Pair it
// with the scheduler binary when running more than one replica.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/apikey"
	"github.com/flowvane/creditdesk/internal/audit"
	"github.com/flowvane/creditdesk/internal/authorization"
	"github.com/flowvane/creditdesk/internal/balance"
	"github.com/flowvane/creditdesk/internal/bundle"
	"github.com/flowvane/creditdesk/internal/cache"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	"github.com/flowvane/creditdesk/internal/creditlot"
	"github.com/flowvane/creditdesk/internal/events"
	"github.com/flowvane/creditdesk/internal/fulfillment"
	"github.com/flowvane/creditdesk/internal/invoice"
	"github.com/flowvane/creditdesk/internal/ledger"
	"github.com/flowvane/creditdesk/internal/migration"
	"github.com/flowvane/creditdesk/internal/notify"
	"github.com/flowvane/creditdesk/internal/observability"
	"github.com/flowvane/creditdesk/internal/order"
	"github.com/flowvane/creditdesk/internal/organization"
	"github.com/flowvane/creditdesk/internal/payment"
	"github.com/flowvane/creditdesk/internal/provider"
	"github.com/flowvane/creditdesk/internal/providers"
	"github.com/flowvane/creditdesk/internal/ratelimit"
	"github.com/flowvane/creditdesk/internal/server"
	"github.com/flowvane/creditdesk/internal/subscription"
	"github.com/flowvane/creditdesk/internal/worklog"
	"github.com/flowvane/creditdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		authorization.Module,
		audit.Module,
		events.Module,
		notify.Module,
		providers.Module,
		ratelimit.Module,
		cache.Module,

		organization.Module,
		provider.Module,
		bundle.Module,
		order.Module,
		creditlot.Module,
		ledger.Module,
		balance.Module,
		worklog.Module,
		invoice.Module,
		payment.Module,
		fulfillment.Module,
		subscription.Module,
		apikey.Module,

		// No scheduler module.
		server.Module,
	)

	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
