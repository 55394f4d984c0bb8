//go:build wireinject
// +build wireinject

package di

import (
	"freshanon/internal"
	"freshanon/internal/clock"
	"freshanon/internal/controllers"
	"freshanon/internal/persistence"
	"freshanon/internal/profiles"
	"freshanon/internal/providers"
	"freshanon/internal/services"
	"freshanon/internal/structures"

	wire "github.com/google/wire"
)

func InitApp(cfg *structures.CliFlags) (*internal.App, error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLogProvider,
		providers.NewInstrumentedCacheProvider,
		providers.NewMetricsProvider,
		providers.NewStoreProvider,
		providers.NewLockerProvider,
		clock.Real,

		profiles.NewProfileProvider,
		persistence.NewZstdCompressor,
		persistence.NewScheduler,
		services.NewMatchService,
		controllers.NewApiController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil
}
