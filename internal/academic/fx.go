package academic

import (
	"github.com/studiva/campusbill/internal/academic/repository"
	"github.com/studiva/campusbill/internal/academic/service"
	"go.uber.org/fx"
)

var Module = fx.Module("academic.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewEnrollmentCache),
	fx.Provide(service.New),
)
