package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/domain-insight/internal/application"
	appai "github.com/bryanwahyu/domain-insight/internal/application/ai"
	"github.com/bryanwahyu/domain-insight/internal/application/cache"
	"github.com/bryanwahyu/domain-insight/internal/application/conversation"
	"github.com/bryanwahyu/domain-insight/internal/application/orchestrator"
	"github.com/bryanwahyu/domain-insight/internal/application/session"
	"github.com/bryanwahyu/domain-insight/internal/config"
	domai "github.com/bryanwahyu/domain-insight/internal/domain/ai"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	convo "github.com/bryanwahyu/domain-insight/internal/domain/conversation"
	"github.com/bryanwahyu/domain-insight/internal/domain/failures"
	openaiclient "github.com/bryanwahyu/domain-insight/internal/infra/ai/openai"
	"github.com/bryanwahyu/domain-insight/internal/infra/analyzers"
	memcache "github.com/bryanwahyu/domain-insight/internal/infra/cache"
	mysqlp "github.com/bryanwahyu/domain-insight/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/domain-insight/internal/infra/db/postgres"
	"github.com/bryanwahyu/domain-insight/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/domain-insight/internal/infra/storage"
	"github.com/bryanwahyu/domain-insight/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	checks := map[string]middleware.HealthChecker{}

	// storage
	var (
		db        *sql.DB
		reports   analysis.ReportRepository
		contexts  convo.Repository
		failureDB failures.Repository
		backend   analysis.CacheBackend
	)
	switch cfg.Database.Driver {
	case "mysql":
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				log.Fatalf("mysql migrate error: %v", err)
			}
		}
		reports = mysqlp.NewReportRepository(db)
		contexts = mysqlp.NewConversationRepository(db)
		failureDB = mysqlp.NewFailureRepository(db)
		if cfg.Cache.Backend == "mysql" {
			b := mysqlp.NewCacheBackend(db)
			backend = b
			go purgeExpired(ctx, b, cfg.Cache.TTL.Duration)
		}
	case "postgres":
		db, err = pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		if cfg.Database.Migrate {
			if err := pgp.Migrate(ctx, db); err != nil {
				log.Fatalf("postgres migrate error: %v", err)
			}
		}
		reports = pgp.NewReportRepository(db)
		contexts = pgp.NewConversationRepository(db)
	}
	if db != nil {
		defer db.Close()
		checks["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}
	if backend == nil {
		mem := memcache.NewMemory(nil)
		go mem.RunJanitor(ctx, time.Minute)
		backend = mem
		middleware.RegisterSource("cache_entries", func() any { return mem.Len() })
	}

	var archive analysis.ReportArchive
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		store.PresignTTL = cfg.Minio.PresignTTL.Duration
		archive = store
	}

	// analyzers
	fetcher := analyzers.NewFetcher(cfg.Analysis.FetchTimeout.Duration)
	if cfg.Analysis.UserAgent != "" {
		fetcher.UserAgent = cfg.Analysis.UserAgent
	}

	ocfg := orchestrator.Config{
		CapabilityTimeout: cfg.Analysis.CapabilityTimeout.Duration,
		OverallTimeout:    cfg.Analysis.OverallTimeout.Duration,
		MaxCapabilities:   cfg.Analysis.MaxCapabilities,
		EnhancedContext:   cfg.Analysis.EnhancedContext,
	}
	for _, c := range cfg.Analysis.DefaultCapabilities {
		ocfg.DefaultCapabilities = append(ocfg.DefaultCapabilities, analysis.CapabilityID(c))
	}

	clock := application.SystemClock{}
	resultCache := cache.New(backend, cfg.Cache.TTL.Duration, clock)
	orch := &orchestrator.Service{
		Registry: orchestrator.NewRegistry(analyzers.All(fetcher)...),
		Cache:    resultCache,
		Reports:  reports,
		Archive:  archive,
		Failures: failureDB,
		Clock:    clock,
		Config:   ocfg,
	}

	// synthesis
	var client domai.Client
	if cfg.OpenAI.APIKey != "" {
		if cfg.OpenAI.BaseURL != "" {
			client = openaiclient.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
		} else {
			client = openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		}
	} else {
		log.Printf("openai: no api key, replies use the plain summary")
	}
	synth := appai.NewService(client)

	store := conversation.NewStore(contexts, clock, conversation.Config{
		IdleTTL:          cfg.Session.IdleTTL.Duration,
		MaxRecentTargets: cfg.Session.MaxRecentTargets,
	})
	sessions := session.NewManager(orch, store, synth, clock, session.Config{
		IdleTTL:     cfg.Session.IdleTTL.Duration,
		MaxSessions: cfg.Session.MaxSessions,
	})
	go sessions.Run(ctx, cfg.Session.SweepInterval.Duration)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond)
	go limiter.Cleanup(ctx, 5*time.Minute, 10*time.Minute)

	middleware.RegisterSource("analyses", func() any { return orch.Stats() })
	middleware.RegisterSource("cache", func() any { return resultCache.Stats() })
	middleware.RegisterSource("sessions", func() any { return sessions.Stats() })
	middleware.RegisterSource("conversation_contexts", func() any { return store.Len() })
	middleware.RegisterSource("synthesis_fallbacks", func() any { return synth.Fallbacks() })

	mux := chi.NewRouter()
	mux.Mount("/", httpserver.NewRouter(httpserver.Options{
		Orchestrator: orch,
		Sessions:     sessions,
		Reports:      reports,
		Failures:     failureDB,
		Limiter:      limiter,
		Health:       checks,
		APIKeys:      cfg.Auth.APIKeys,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	// no write timeout: POST /v1/analyses blocks up to the overall deadline
	// and websocket connections are long-lived
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")
	middleware.SetDraining(true)

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	// hijacked websocket connections are not tracked by Shutdown
	sessions.CloseAll()
	stopBackground()
}

func purgeExpired(ctx context.Context, b *mysqlp.CacheBackend, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := b.Purge(ctx, now); err != nil {
				log.Printf("cache: purge failed err=%v", err)
			} else if n > 0 {
				log.Printf("cache: purged expired rows=%d", n)
			}
		}
	}
}
