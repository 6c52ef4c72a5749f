package worklog

import (
	"github.com/flowvane/creditdesk/internal/worklog/repository"
	"github.com/flowvane/creditdesk/internal/worklog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("worklog.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
