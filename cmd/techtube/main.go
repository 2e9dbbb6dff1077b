package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/config"
	"github.com/voyagen/techtube/internal/embedding"
	"github.com/voyagen/techtube/internal/fetcher"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/server"
	"github.com/voyagen/techtube/internal/service"
	"github.com/voyagen/techtube/internal/store"
	"github.com/voyagen/techtube/internal/youtube"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL / SQLITE_PATH")
	once := flag.Bool("once", false, "Run one collection cycle, print its summary and exit")
	resetDue := flag.Bool("reset-due", false, "Make every keyword and channel due again and exit")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, *resetDue); err != nil {
		log.Error().Err(err).Msg("techtube exited")
		stop()
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "techtube").Logger()
}

func run(ctx context.Context, cfg *config.Config, once, resetDue bool) error {
	appStore, pg, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer appStore.Close()

	// Redis is optional: it adds read caching, a cross-process cycle lock and the embedding queue.
	var rds *cache.Redis
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL, "techtube:")
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		appStore = store.NewCachedStore(appStore, rds)
		log.Info().Msg("redis connected (caching enabled)")
	} else {
		log.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	if resetDue {
		today := service.DayOf(time.Now(), cfg.Collector.Location)
		if err := appStore.ResetDue(ctx, today); err != nil {
			return err
		}
		log.Info().Str("today", today.Format(time.DateOnly)).Msg("every keyword and channel is due again")
		return nil
	}

	if cfg.YouTubeAPIKey == "" {
		return errors.New("YOUTUBE_API_KEY is required")
	}
	yt, err := youtube.NewClient(ctx, cfg.YouTubeAPIKey, cfg.Collector.PageSize, cfg.YouTubeTimeout, log.Logger)
	if err != nil {
		return err
	}
	extractor, err := keywords.New(cfg.AI, log.Logger)
	if err != nil {
		return err
	}
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		log.Info().Str("provider", cfg.AI.Provider).Msg("AI keyword extraction enabled")
	}

	// Similar videos need embeddings, which live in Postgres (pgvector).
	var similar store.EmbeddingStore
	var embedder *service.Embedder
	if pg != nil && cfg.VoyageAPIKey != "" {
		similar = pg
		embedder = service.NewEmbedder(pg, embedding.NewClient(cfg.VoyageAPIKey, cfg.VoyageModel), log.Logger)
		log.Info().Msg("video embeddings enabled (VoyageAI)")
	}

	opts := service.Options{
		SeedKeyword: cfg.Collector.SeedKeyword,
		LockTTL:     cfg.Collector.LockTTL,
		Location:    cfg.Collector.Location,
	}
	var queue *cache.Queue
	if rds != nil {
		// The store record stays authoritative so processes without Redis still exclude each other.
		opts.Locker = service.Locks{appStore, cache.NewLocker(rds)}
		if embedder != nil {
			queue = cache.NewQueue(rds, cache.DefaultQueue)
			opts.Queue = queue
		}
	}
	pacer := fetcher.NewRatePacer(cfg.Collector.PageDelay)
	collector := service.NewCollector(appStore, fetcher.New(yt, pacer, cfg.Collector.MaxPages), extractor, log.Logger, opts)

	if once {
		sum, err := collector.RunCycle(ctx)
		if sum != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(sum)
		}
		if err == nil && embedder != nil {
			// One-off runs have no worker; embed this cycle's videos before exiting.
			if _, err := embedder.Refresh(ctx, sum.NewVideoIDs); err != nil {
				log.Warn().Err(err).Msg("embed new videos")
			}
		}
		return err
	}

	if queue != nil {
		go embedder.Run(ctx, queue)
	}
	if cfg.Collector.Interval > 0 {
		go service.NewScheduler(collector, cfg.Collector.Interval, log.Logger).Start(ctx)
	} else {
		log.Info().Msg("built-in scheduler disabled (COLLECT_INTERVAL not set); trigger cycles with POST /api/cycles")
	}

	srv := server.New(server.Deps{
		Store:     appStore,
		Collector: collector,
		Channels:  yt,
		Similar:   similar,
		Port:      cfg.ServerPort,
	})
	return srv.ListenAndServe(ctx)
}

// openStore opens Postgres when DATABASE_URL is set (creating the schema through migrations),
// otherwise the SQLite file at SQLITE_PATH. pg is nil for SQLite.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *store.Postgres, error) {
	if cfg.DatabaseURL == "" {
		s, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return s, nil, nil
	}

	if err := store.EnsurePgvector(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("pgvector: %w", err)
	}
	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	log.Info().Msg("using postgres store")
	return pg, pg, nil
}
