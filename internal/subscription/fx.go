package subscription

import (
	"github.com/flowvane/creditdesk/internal/subscription/repository"
	"github.com/flowvane/creditdesk/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
