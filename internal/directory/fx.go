package directory

import (
	"github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/internal/directory/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("directory",
	fx.Provide(repository.NewStore),
	fx.Provide(func(s *repository.Store) domain.Directory { return s }),
)
