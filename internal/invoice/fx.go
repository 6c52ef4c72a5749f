package invoice

import (
	"github.com/flowvane/creditdesk/internal/invoice/repository"
	"github.com/flowvane/creditdesk/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
