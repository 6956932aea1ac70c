package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-relay/internal/api"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/sirupsen/logrus"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	logLevel       string
	rateLimit      float64
	rateBurst      int
	migrateOnStart bool
	allowedOrigins stringSliceFlag
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadEnv(); err != nil {
		logger.WithError(err).Fatal("load env")
	}

	flag.StringVar(&addr, "addr", config.GetEnv("RELAY_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.GetEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", config.GetEnv("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&logLevel, "log-level", config.GetEnv("LOG_LEVEL", "info"), "log level")
	flag.Float64Var(&rateLimit, "rate-limit", config.GetEnvFloat("RATE_LIMIT", config.DefaultRateLimit), "inbound events per second per connection")
	flag.IntVar(&rateBurst, "rate-burst", config.GetEnvInt("RATE_BURST", config.DefaultRateBurst), "inbound event burst per connection")
	flag.BoolVar(&migrateOnStart, "migrate", config.GetEnvBool("MIGRATE_ON_START", false), "apply database migrations on start")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.GetEnvList("ALLOWED_ORIGINS")
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	if err := cfg.SetLogLevel(logLevel); err != nil {
		logger.WithError(err).Fatal("config")
	}
	if err := cfg.SetRateLimit(rateLimit, rateBurst); err != nil {
		logger.WithError(err).Fatal("config")
	}
	cfg.MigrateOnStart = migrateOnStart
	logger.SetLevel(cfg.LogLevel)

	dbConn, err := database.NewPgRelayRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.WithError(err).Error("db close")
		}
	}()

	if cfg.MigrateOnStart {
		version, err := dbConn.Migrate()
		if err != nil {
			logger.WithError(err).Fatal("db migrate")
		}
		logger.Infof("database schema at version %d", version)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater)
	if err != nil {
		logger.WithError(err).Fatal("new chat server")
	}
	chatServer.SetRateLimit(cfg.RateLimit, cfg.RateBurst)

	srv := api.NewRelayApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infof("received signal: %s", sig)
	case err := <-errCh:
		logger.WithError(err).Error("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown")
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("chat server shutdown")
	}

	logger.Info("shutdown complete")
}
