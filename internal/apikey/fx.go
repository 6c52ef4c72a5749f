package apikey

import (
	"github.com/flowvane/creditdesk/internal/apikey/repository"
	"github.com/flowvane/creditdesk/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
