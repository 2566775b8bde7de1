package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/rtspsource/internal/config"
	"github.com/zsiec/rtspsource/internal/health"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/registry"
	"github.com/zsiec/rtspsource/internal/server"
	"github.com/zsiec/rtspsource/internal/session"
	"github.com/zsiec/rtspsource/pkg/version"
)

// app holds one engine and the optional services around it: metrics
// listener, status registry and control server.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	engine *session.Engine
	redis  *redis.Client
	wg     sync.WaitGroup
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.WithField("version", version.GetInfo().Short()).Info("Starting rtspsource")

	engine, err := session.NewEngine(cfg, session.WithLogger(loggerFor(log, "session")))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &app{cfg: cfg, log: log, engine: engine}, nil
}

// start launches the enabled services. They stop when ctx ends; wait
// blocks until they have.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Metrics.Enabled {
		a.goRun(func() { startMetricsServer(ctx, a.cfg.Metrics, a.log) })
	}

	var opts []server.Option
	if a.cfg.Source.URL != "" {
		opts = append(opts, server.WithDefaultURL(a.cfg.Source.URL))
	}

	if a.cfg.Registry.Enabled {
		rc := a.cfg.Registry
		a.redis = redis.NewClient(&redis.Options{
			Addr:     rc.RedisAddr,
			Password: rc.RedisPassword,
			DB:       rc.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.log.WithField("addr", rc.RedisAddr).Info("Connected to Redis")

		regLog := loggerFor(a.log, "registry")
		reg := registry.NewRedisRegistry(a.redis, rc.KeyPrefix, rc.TTL, regLog)
		pub := registry.NewPublisher(reg, a.engine, rc.HeartbeatInterval, regLog)
		a.engine.OnStateChange(pub.OnStateChange)
		a.goRun(func() {
			if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.WithError(err).Error("Registry publisher stopped")
			}
		})
		opts = append(opts, server.WithHealthChecker(health.NewRedisChecker(a.redis)))
	}

	if a.cfg.Server.Enabled {
		srv := server.New(&a.cfg.Server, a.log, a.engine, opts...)
		a.goRun(func() {
			if err := srv.Start(ctx); err != nil {
				a.log.WithError(err).Error("Control server error")
			}
		})
	}
	return nil
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// close stops the session and the worker, then waits for the services.
// ctx must already be cancelled for the services to return.
func (a *app) close() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.engine.Stop(stopCtx); err != nil && !errors.Is(err, session.ErrWrongState) {
		a.log.WithError(err).Warn("Stop failed")
	}
	if err := a.engine.Close(); err != nil {
		a.log.WithError(err).Warn("Session close failed")
	}
	a.wg.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close Redis connection")
		}
	}
	a.log.Info("Shutdown complete")
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}

func loggerFor(log *logrus.Logger, component string) logger.Logger {
	return logger.NewLogrusAdapter(logger.WithComponent(log, component))
}
