package providers

import (
	"github.com/flowvane/creditdesk/internal/providers/email"
	"github.com/flowvane/creditdesk/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
