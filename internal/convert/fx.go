package convert

import "go.uber.org/fx"

var Module = fx.Module("convert",
	fx.Provide(New),
)
