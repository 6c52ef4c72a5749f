package ledger

import (
	"github.com/flowvane/creditdesk/internal/ledger/repository"
	"github.com/flowvane/creditdesk/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
