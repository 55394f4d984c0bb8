package internal

import (
	"context"
	"fmt"
	"freshanon/internal/controllers"
	"freshanon/internal/persistence"
	"freshanon/internal/providers"
	"freshanon/internal/services"
	"freshanon/internal/storage"
	"freshanon/internal/storage/locker"
	"freshanon/internal/structures"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

type App struct {
	WebServer *http.Server
}

// NewHandler assembles the outer mux: infrastructure endpoints plus the instrumented API.
func NewHandler(healthController *controllers.HealthController, conf *structures.Config, router providers.RouterProviderInterface, metrics providers.MetricsProviderInterface) http.Handler {
	// Inner mux: API routes
	apiMux := http.NewServeMux()
	routes := router.GetRoutes()
	endpoints := make([]string, 0, len(routes))
	for _, route := range routes {
		apiMux.Handle(route.Url, route.Handler)
		endpoints = append(endpoints, route.Url)
	}

	// Wrap API routes with metrics middleware
	instrumentedAPI := providers.MetricsMiddleware(metrics, endpoints, apiMux)

	// Outer mux: infrastructure + instrumented API
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", instrumentedAPI)
	return mux
}

func NewApp(healthController *controllers.HealthController, maintenance persistence.SchedulerInterface, service services.MatchServiceInterface, store storage.Store, locks locker.Locker, conf *structures.Config, logger providers.Logger, router providers.RouterProviderInterface, metrics providers.MetricsProviderInterface) (*App, error) {
	logger.Infof(providers.TypeApp, "Starting %s", conf.AppName)
	err := maintenance.Restore()
	if err != nil {
		logger.Errorf(providers.TypeApp, "Restore error: %s", err)
	}

	app := &App{
		WebServer: &http.Server{
			Addr:         conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler:      NewHandler(healthController, conf, router, metrics),
			ReadTimeout:  conf.WebServer.ReadTimeout,
			WriteTimeout: conf.WebServer.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}

	maintenance.Init()

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof(providers.TypeApp, "Listening HTTP clients on %s:%d", conf.WebServer.Host, conf.WebServer.Port)
		if err := app.WebServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		service.Stop()
		maintenance.Stop()
		return nil, fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := conf.WebServer.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = app.WebServer.Shutdown(ctx); err != nil {
		return nil, err
	}

	// searches dequeue their participants on exit and must stop before the final snapshot
	service.Stop()
	maintenance.Stop()

	err = maintenance.Persist()
	if err != nil {
		return nil, err
	}
	if err = locks.Close(); err != nil {
		logger.Warnf(providers.TypeApp, "Closing locker: %s", err)
	}
	if err = store.Close(); err != nil {
		logger.Warnf(providers.TypeApp, "Closing store: %s", err)
	}
	logger.Infof(providers.TypeApp, "gracefully stopped")
	return app, nil
}
