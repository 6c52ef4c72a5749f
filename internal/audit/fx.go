package audit

import (
	"github.com/flowvane/creditdesk/internal/audit/repository"
	"github.com/flowvane/creditdesk/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
