package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"fleetintel/internal/aiproxy"
	"fleetintel/internal/alertfeed"
	"fleetintel/internal/api"
	"fleetintel/internal/assistant"
	"fleetintel/internal/config"
	"fleetintel/internal/fleet"
	"fleetintel/internal/logging"
	"fleetintel/internal/realtime"
	"fleetintel/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, events, closeStore := initStore(ctx, cfg, log)
	defer closeStore()

	var pub alertfeed.Publisher = alertfeed.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = alertfeed.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaAlertTopic).Msg("publishing risk alerts to kafka")
	}
	monitor := alertfeed.NewMonitor(pub, log)
	go monitor.Run(ctx)

	feed, err := openFeed(cfg.SnapshotFile, monitor.Observe)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SnapshotFile).Msg("load snapshot")
	}
	if v := feed.Current(); v.Version > 0 {
		log.Info().Str("path", cfg.SnapshotFile).Uint64("version", v.Version).Msg("snapshot loaded")
	}

	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	engine := assistant.NewEngine(assistant.Options{
		AI:       aiproxy.NewClient(cfg.AIProxyURL, &http.Client{}),
		Store:    store,
		Events:   events,
		Observer: hub,
		Timeout:  cfg.AIRequestTimeout,
		IdleTTL:  cfg.SessionIdleTTL,
		Log:      log,
	})
	go engine.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.JSONLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Snapshot-Version"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	api.AttachRoutes(r, api.Deps{Feed: feed, Engine: engine, Hub: hub, Events: events, Log: log})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("ai_proxy", cfg.AIProxyURL).Msg("fleet intelligence API listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

// openFeed subscribes observers before installing the snapshot at path, so the
// first version is evaluated like any later push. An empty path leaves the feed empty.
func openFeed(path string, observers ...func(fleet.Versioned)) (*fleet.Feed, error) {
	feed := fleet.NewFeed(nil)
	for _, fn := range observers {
		feed.Subscribe(fn)
	}
	if path == "" {
		return feed, nil
	}
	snap, err := fleet.LoadFile(path)
	if err != nil {
		return nil, err
	}
	feed.Replace(snap)
	return feed, nil
}

// initStore prefers PostgreSQL, then Redis, then memory for the settings
// store. The event log lives in PostgreSQL when available.
func initStore(ctx context.Context, cfg config.ServerConfig, log zerolog.Logger) (storage.KV, storage.EventLog, func()) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pool, err := storage.DefaultPool(initCtx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("database connection failed, falling back")
		} else if err := storage.EnsureSchema(initCtx, pool); err != nil {
			log.Warn().Err(err).Msg("schema init failed, falling back")
			pool.Close()
		} else {
			log.Info().Msg("using PostgreSQL persistence")
			pg := storage.NewPostgres(pool)
			return pg, pg, pool.Close
		}
	}

	events := storage.NewMemoryEventLog(10000)
	if cfg.RedisURL != "" {
		client, err := storage.ConnectRedis(initCtx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unreachable, falling back to in-memory")
		} else {
			log.Info().Msg("using Redis settings store")
			return storage.NewRedisKV(client, cfg.KVPrefix), events, func() { client.Close() }
		}
	}

	log.Info().Msg("using in-memory settings store")
	return storage.NewMemoryKV(), events, func() {}
}
