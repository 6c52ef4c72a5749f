package order

import (
	"github.com/flowvane/creditdesk/internal/order/repository"
	"github.com/flowvane/creditdesk/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
