package organization

import (
	"github.com/flowvane/creditdesk/internal/organization/repository"
	"github.com/flowvane/creditdesk/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
