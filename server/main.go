package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urbanfleet/gatekeep/pkg/config"
	"github.com/urbanfleet/gatekeep/pkg/telemetry"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	configPath = flag.String("config", "gatekeep.yaml", "Config file path")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	upstream   = flag.String("upstream", "", "Upstream API base URL (overrides config)")
	Version    = "dev"
)

// Server holds the admission-control state shared by all handlers. The
// counter map is owned exclusively by this subsystem; the block store is
// shared with admin tooling through the HTTP surface only.
type Server struct {
	db            *gorm.DB
	blocks        *BlockStore
	counter       *windowCounter
	configs       *config.Manager
	adminToken    string
	logger        zerolog.Logger
	storeLogLimit *rate.Limiter
	now           func() time.Time
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	configs, err := config.NewManager(*configPath)
	if err != nil {
		fatalLogger := zerolog.New(os.Stderr)
		fatalLogger.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := configs.Get()

	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *upstream != "" {
		cfg.Server.UpstreamURL = *upstream
	}

	log := setupLogger(cfg.Logging)
	log.Info().Str("version", Version).Msg("gatekeep starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.SetupTracing(ctx, telemetry.Options{
		ServiceName:    "gatekeep",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		LogSpans:       cfg.Tracing.LogSpans,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	db, err := gorm.Open(sqlite.Open(cfg.Server.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.AutoMigrate(&BlockRecord{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	adminToken, err := cfg.AdminToken()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read admin token")
	}
	if adminToken == "" {
		log.Warn().Msg("no admin token configured, admin endpoints disabled")
	}

	srv := &Server{
		db:            db,
		blocks:        NewBlockStore(db),
		counter:       newWindowCounter(),
		configs:       configs,
		adminToken:    adminToken,
		logger:        log,
		storeLogLimit: rate.NewLimiter(rate.Every(time.Second), 5),
		now:           time.Now,
	}
	srv.counter.startReaper(ctx, reaperInterval, counterMaxAge, log)

	proxy, err := newUpstreamProxy(cfg.Server.UpstreamURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upstream URL")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), withRequestContext(log))

	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "counters": srv.counter.size()})
	})
	srv.registerAdminRoutes(r)

	api := r.Group("/api", srv.authenticate(), srv.rateLimit())
	api.Any("/*path", proxy)

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: r,
	}

	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Str("upstream", cfg.Server.UpstreamURL).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutS)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := configs.Close(); err != nil {
		log.Error().Err(err).Msg("config watcher close error")
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown error")
		}
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.JSON || !cfg.HumanReadable {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger()
}
