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
	"github.com/flowvane/creditdesk/internal/observability/remotewrite"
	"github.com/flowvane/creditdesk/internal/order"
	"github.com/flowvane/creditdesk/internal/organization"
	"github.com/flowvane/creditdesk/internal/payment"
	"github.com/flowvane/creditdesk/internal/provider"
	"github.com/flowvane/creditdesk/internal/providers"
	"github.com/flowvane/creditdesk/internal/ratelimit"
	"github.com/flowvane/creditdesk/internal/scheduler"
	"github.com/flowvane/creditdesk/internal/server"
	"github.com/flowvane/creditdesk/internal/subscription"
	"github.com/flowvane/creditdesk/internal/worklog"
	"github.com/flowvane/creditdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		remotewrite.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Cross-cutting services
		authorization.Module,
		audit.Module,
		events.Module,
		notify.Module,
		providers.Module,
		ratelimit.Module,
		cache.Module,

		// Domain
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

		// Edges
		server.Module,
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
