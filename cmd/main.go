package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"tracklink/cmd/buildCFG"
	"tracklink/internal/api"
	"tracklink/internal/events"
	"tracklink/internal/fingerprint"
	"tracklink/internal/geo"
	"tracklink/internal/repo"
	"tracklink/internal/service"
	"tracklink/internal/tracker"
	"tracklink/pkg/zlog"
)

func main() {
	cfg, err := buildCFG.Load("config.yaml")
	if err != nil {
		zlog.Logger.Fatal().Msgf("failed to load configuration: %v", err)
	}
	logCfg := buildCFG.BuildLogConfig(cfg)
	zlog.Init(logCfg.Level, logCfg.Format)
	log := zlog.Logger

	serverCfg, err := buildCFG.BuildServerConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server config")
	}
	linksCfg, err := buildCFG.BuildLinksConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build link table config")
	}
	visitsCfg, err := buildCFG.BuildVisitsConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build visit ledger config")
	}
	geoCfg, err := buildCFG.BuildGeoConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build geolocation config")
	}
	trackerCfg, err := buildCFG.BuildTrackerConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build tracker config")
	}
	kafkaCfg, err := buildCFG.BuildKafkaConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build kafka config")
	}

	ctx := context.Background()

	links, closeLinks := buildLinkTable(ctx, cfg, linksCfg, &log)
	defer closeLinks()

	ledger, closeLedger := buildVisitLedger(ctx, cfg, visitsCfg, &log)
	defer closeLedger()

	var publisher events.Publisher = events.NopPublisher{}
	if kafkaCfg.Enabled {
		publisher = events.NewKafkaPublisher(kafkaCfg.Brokers, kafkaCfg.Topic)
		log.Info().Msgf("Publishing visits to kafka topic %s", kafkaCfg.Topic)
	}

	provider := geo.NewBreakerProvider(geo.NewIPAPIProvider(geoCfg.BaseURL, geoCfg.Timeout), geoCfg.Breaker, &log)
	extractor := fingerprint.Extractor{LoopbackSubstitute: geoCfg.LoopbackSubstitute}

	visitTracker := tracker.New(trackerCfg, extractor, provider, ledger, publisher, &log)
	go func() {
		for err := range visitTracker.Errors() {
			log.Error().Msgf("tracking failed: %v", err)
		}
	}()

	serviceInstance := service.NewService(links, ledger, visitTracker, buildCFG.BuildServiceConfig(cfg, linksCfg), &log)

	gin.SetMode(serverCfg.GinMode)
	app := api.NewRouters(&api.Routers{Service: serviceInstance})

	srv := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      app,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}
	if err := visitTracker.Close(shutdownCtx); err != nil {
		log.Error().Msgf("Error draining tracker: %v", err)
	}

	log.Info().Msg("Shutdown complete")
}

func buildLinkTable(ctx context.Context, cfg *viper.Viper, linksCfg buildCFG.LinksConfig, log *zerolog.Logger) (repo.LinkTable, func()) {
	opts := repo.LinkOptions{Capacity: linksCfg.Capacity, TTL: linksCfg.TTL}

	if linksCfg.Backend != buildCFG.BackendRedis {
		return repo.NewMemoryLinkTable(opts), func() {}
	}

	redisCfg, err := buildCFG.BuildRedisConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load Redis config")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Msgf("failed to ping Redis: %v", err)
	}
	log.Info().Msg("Redis connected successfully")

	return repo.NewRedisLinkTable(rdb, log, redisCfg.Prefix, opts), func() {
		if err := rdb.Close(); err != nil {
			log.Error().Msgf("failed to close Redis client: %v", err)
		}
	}
}

func buildVisitLedger(ctx context.Context, cfg *viper.Viper, visitsCfg buildCFG.VisitsConfig, log *zerolog.Logger) (repo.VisitLedger, func()) {
	if visitsCfg.Backend != buildCFG.BackendPostgres {
		return repo.NewMemoryVisitLedger(visitsCfg.Capacity), func() {}
	}

	dsn, poolOptions, err := buildCFG.BuildDBConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	db.SetMaxOpenConns(poolOptions.MaxOpenConns)
	db.SetMaxIdleConns(poolOptions.MaxIdleConns)
	db.SetConnMaxLifetime(poolOptions.ConnMaxLifetime)

	ledger, err := repo.NewPostgresLedger(ctx, db, log, visitsCfg.Capacity)
	if err != nil {
		log.Fatal().Msgf("failed to initialize visit ledger: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := ledger.MigrateUp(ctx, migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	return ledger, func() {
		if err := db.Close(); err != nil {
			log.Error().Msgf("failed to close DB: %v", err)
		}
	}
}
