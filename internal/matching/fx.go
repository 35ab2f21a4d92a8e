package matching

import (
	"github.com/smallbiznis/catalogue/internal/matching/repository"
	"github.com/smallbiznis/catalogue/internal/matching/service"
	"go.uber.org/fx"
)

var Module = fx.Module("matching",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
