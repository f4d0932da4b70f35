package negotiation

import (
	"github.com/studiva/campusbill/internal/negotiation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("negotiation.service",
	fx.Provide(service.New),
)
