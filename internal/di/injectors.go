//go:build wireinject
// +build wireinject

package di

import (
	wire "github.com/google/wire"

	"inboxd/internal"
	"inboxd/internal/controllers"
	"inboxd/internal/counter"
	"inboxd/internal/credential"
	"inboxd/internal/providers"
	"inboxd/internal/scheduler"
	"inboxd/internal/services"
	"inboxd/internal/sources"
	"inboxd/internal/state"
	"inboxd/internal/structures"
)

func InitApp(cfg *structures.CliFlags) (*internal.App, func(), error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLoggerProvider,
		providers.NewMetricsProvider,
		providers.NewInstrumentedCacheProvider,

		credential.NewBearerToken,
		sources.NewNotificationChannel,
		sources.NewActivityLog,
		state.NewKVProvider,
		state.NewStoreProvider,
		counter.NewBroadcaster,
		services.NewInboxService,
		scheduler.NewScheduler,
		controllers.NewInboxController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil, nil
}
