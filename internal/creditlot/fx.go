package creditlot

import (
	"github.com/flowvane/creditdesk/internal/creditlot/repository"
	"github.com/flowvane/creditdesk/internal/creditlot/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditlot.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
