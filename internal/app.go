package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inboxd/internal/controllers"
	"inboxd/internal/providers"
	"inboxd/internal/scheduler"
	"inboxd/internal/services"
	"inboxd/internal/structures"
)

type App struct {
	WebServer *http.Server
	conf      *structures.Config
	logger    providers.Logger
	scheduler scheduler.SchedulerInterface
	service   services.InboxServiceInterface
}

func NewApp(healthController *controllers.HealthController, sched scheduler.SchedulerInterface, service services.InboxServiceInterface, conf *structures.Config, logger providers.Logger, router providers.RouterProviderInterface, metrics providers.MetricsProviderInterface) *App {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	router.Mount(mux, metrics, logger)

	return &App{
		WebServer: &http.Server{
			Addr:         conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		conf:      conf,
		logger:    logger,
		scheduler: sched,
		service:   service,
	}
}

// Run restores state, subscribes the sources and serves HTTP until ctx is
// done. Pending state is flushed on the way out.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof(providers.TypeApp, "Starting %s", a.conf.AppName)
	if err := a.scheduler.Restore(); err != nil {
		a.logger.Errorf(providers.TypeApp, "Restore error: %s", err)
	}

	if err := a.service.Start(ctx); err != nil {
		return fmt.Errorf("start inbox: %w", err)
	}
	go func() {
		if _, err := a.service.Refresh(ctx); err != nil {
			a.logger.Warnf(providers.TypeApp, "Initial refresh: %s", err)
		}
	}()
	a.scheduler.Init()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Infof(providers.TypeApp, "Listening HTTP clients on %s", a.WebServer.Addr)
		if err := a.WebServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	a.service.Stop()
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.WebServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := a.scheduler.Persist(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		a.logger.Infof(providers.TypeApp, "gracefully stopped")
	}
	return runErr
}
