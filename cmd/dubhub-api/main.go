package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dubhub/internal/billing"
	"dubhub/internal/bootstrap"
	"dubhub/internal/cache"
	"dubhub/internal/config"
	"dubhub/internal/credits"
	server "dubhub/internal/http"
	"dubhub/internal/jobs"
	"dubhub/internal/migrate"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
	"dubhub/internal/vendors"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	if *role != "api" && *role != "worker" && *role != "all" {
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}

	cfg := config.Load(*configPath)
	logger := newLogger(cfg.Log)

	// Run migrations on a short-lived connection
	if !cfg.Database.SkipMigrations {
		if err := migrate.Run(cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	st, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	defer st.DB.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs rate limiting, the completed-jobs cache and notification
	// fan-out. Everything degrades to in-process equivalents without it.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	var completed cache.CompletedJobs = cache.NewMemory()
	if rdb != nil {
		ttl := time.Duration(cfg.Cache.CompletedTTLHours) * time.Hour
		completed = cache.NewRedis(rdb, "dubhub:completed", ttl)
	}

	bus := notify.NewEventBus(cfg.Notifications.BufferSize)
	notifiers := notify.Multi{bus, notify.Logger{Log: logger}}
	var relay *notify.RedisPublisher
	if rdb != nil {
		relay = notify.NewRedisPublisher(rdb, cfg.Notifications.RedisChannelPrefix, uuid.NewString())
		notifiers = append(notifiers, relay)
	}
	if cfg.Notifications.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.Notifications.AMQPURL, cfg.Notifications.AMQPExchange)
		if err != nil {
			log.Fatalf("amqp connect failed: %v", err)
		}
		defer pub.Close()
		notifiers = append(notifiers, pub)
	}

	ledger := credits.NewLedger(st, logger)

	if err := bootstrap.Run(rootCtx, cfg, st, ledger, logger); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	handlers := newRegistry(cfg, logger)

	manager := jobs.NewManager(st, handlers, ledger, notifiers, completed, logger, jobs.Options{
		PollInterval:    time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
		MaxPollFailures: cfg.Worker.MaxConsecutivePollFailures,
	})
	defer manager.Shutdown()

	recovery := jobs.NewRecovery(st, handlers, notifiers, completed, logger, jobs.RecoveryOptions{
		BatchSize:   cfg.Worker.RecoveryBatchSize,
		Concurrency: cfg.Worker.MaxConcurrentReconciles,
	})

	if *role == "worker" || *role == "all" {
		runner := jobs.NewRunner(cfg, st, recovery, logger)
		go runner.Start(rootCtx)
	}

	if *role == "worker" {
		logger.Info("worker started")
		<-rootCtx.Done()
		return
	}

	// Terminal notifications from worker processes reach this API's bus
	// through Redis.
	if relay != nil {
		go func() {
			if err := relay.Relay(rootCtx, bus, logger); err != nil {
				logger.Error("notification relay stopped", "error", err)
			}
		}()
	}

	deps := server.Deps{
		Jobs:          manager,
		Reader:        jobs.NewAggregator(st, model.JobTypes(), completed, logger),
		Recovery:      recovery,
		Credits:       ledger,
		Notifications: bus,
		Keys:          st,
		DB:            st,
		Redis:         rdb,
	}
	if cfg.Billing.Enabled {
		stripe := billing.NewStripeClient(cfg.Billing.BaseURL, cfg.Billing.StripeSecretKey, cfg.Billing.TimeoutMs, cfg.Vendors.MaxRetries)
		deps.Billing = billing.NewService(cfg.Billing, stripe, st, ledger, notifiers, logger)
	}

	s := server.NewServer(cfg, deps, logger)
	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("api listening", "host", cfg.Server.Host, "port", cfg.Server.Port, "role", *role)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// newRegistry registers a handler for every job type whose vendor is
// configured.
func newRegistry(cfg *config.Config, logger *slog.Logger) *jobs.Registry {
	reg := jobs.NewRegistry()

	if sieve, err := vendors.NewSieveClient(cfg.Vendors.Sieve, cfg.Vendors.MaxRetries); err != nil {
		logger.Warn("sieve disabled; dubbing and subtitles unavailable", "error", err)
	} else {
		reg.Register(jobs.NewDubbingHandler(sieve, cfg.Vendors.Sieve.DubbingFunction))
		reg.Register(jobs.NewSubtitlesHandler(sieve, cfg.Vendors.Sieve.SubtitlesFunction))
	}

	if replicate, err := vendors.NewReplicateClient(cfg.Vendors.Replicate, cfg.Vendors.MaxRetries); err != nil {
		logger.Warn("replicate disabled; video generation unavailable", "error", err)
	} else {
		reg.Register(jobs.NewVideoGenerationHandler(replicate, cfg.Vendors.Replicate.VideoModelVersion))
	}

	return reg
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
