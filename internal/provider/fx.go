package provider

import (
	"github.com/flowvane/creditdesk/internal/provider/repository"
	"github.com/flowvane/creditdesk/internal/provider/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
