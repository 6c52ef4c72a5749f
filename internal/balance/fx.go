package balance

import (
	"github.com/flowvane/creditdesk/internal/balance/repository"
	"github.com/flowvane/creditdesk/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
