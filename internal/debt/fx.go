package debt

import (
	"github.com/studiva/campusbill/internal/debt/service"
	"go.uber.org/fx"
)

var Module = fx.Module("debt.service",
	fx.Provide(service.New),
)
