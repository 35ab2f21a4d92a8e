package formation

import (
	"github.com/smallbiznis/catalogue/internal/formation/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("formation",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideConverted),
)
