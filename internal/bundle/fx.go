package bundle

import (
	"github.com/flowvane/creditdesk/internal/bundle/repository"
	"github.com/flowvane/creditdesk/internal/bundle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bundle.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
