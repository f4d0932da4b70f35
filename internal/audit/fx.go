package audit

import (
	"github.com/studiva/campusbill/internal/audit/repository"
	"github.com/studiva/campusbill/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
