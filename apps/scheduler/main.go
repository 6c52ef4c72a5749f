// Jobs-only deployment: expiry sweeps, fulfillment reconciliation, past-due
// flagging and outbox dispatch, with no HTTP surface. Run a single instance,
// or rely on the redis lock when running more.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/audit"
	"github.com/flowvane/creditdesk/internal/bundle"
	"github.com/flowvane/creditdesk/internal/cache"
	"github.com/flowvane/creditdesk/internal/clock"
	"github.com/flowvane/creditdesk/internal/config"
	"github.com/flowvane/creditdesk/internal/creditlot"
	"github.com/flowvane/creditdesk/internal/events"
	"github.com/flowvane/creditdesk/internal/fulfillment"
	"github.com/flowvane/creditdesk/internal/invoice"
	"github.com/flowvane/creditdesk/internal/ledger"
	"github.com/flowvane/creditdesk/internal/notify"
	"github.com/flowvane/creditdesk/internal/observability"
	"github.com/flowvane/creditdesk/internal/order"
	"github.com/flowvane/creditdesk/internal/providers"
	"github.com/flowvane/creditdesk/internal/ratelimit"
	"github.com/flowvane/creditdesk/internal/scheduler"
	"github.com/flowvane/creditdesk/internal/subscription"
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

		audit.Module,
		events.Module,
		notify.Module,
		providers.Module,
		ratelimit.Module,
		cache.Module,

		// Domain services the jobs drive, plus what fulfillment pulls in.
		bundle.Module,
		order.Module,
		creditlot.Module,
		ledger.Module,
		invoice.Module,
		fulfillment.Module,
		subscription.Module,

		// No server module.
		scheduler.Module,
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
