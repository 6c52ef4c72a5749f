package payment

import (
	"github.com/flowvane/creditdesk/internal/payment/adapters"
	"github.com/flowvane/creditdesk/internal/payment/adapters/stripe"
	"github.com/flowvane/creditdesk/internal/payment/repository"
	"github.com/flowvane/creditdesk/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
