package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grantsmith/api/internal/app"
	"grantsmith/api/internal/artifacts"
	"grantsmith/api/internal/ask"
	"grantsmith/api/internal/cache"
	"grantsmith/api/internal/config"
	"grantsmith/api/internal/email"
	"grantsmith/api/internal/gitrepo"
	"grantsmith/api/internal/llm"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/search"
	"grantsmith/api/internal/store"
	"grantsmith/api/internal/telemetry"
	"grantsmith/api/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, "grantsmith-api", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("telemetry setup failed: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var service *app.Service
	loadAll := search.Loader(func(ctx context.Context) ([]proposal.Document, error) { return service.Documents(ctx) })

	var dataStore store.ProposalStore
	var fallback search.Searcher
	switch cfg.Store {
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		pgStore := store.NewPostgresStore(db)
		dataStore = pgStore
		fallback = search.NewPgFTS(pgStore)
	case "sqlite":
		sqliteStore, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite open failed: %v", err)
		}
		defer sqliteStore.Close()
		dataStore = sqliteStore
		fallback = search.NewScan(loadAll)
	default:
		log.Printf("Using in-memory proposal store; data is lost on restart")
		dataStore = store.NewMemoryStore()
		fallback = search.NewScan(loadAll)
	}

	catalog := templates.Builtin()
	if strings.TrimSpace(cfg.TemplatesFile) != "" {
		if catalog, err = templates.Load(cfg.TemplatesFile); err != nil {
			log.Fatalf("templates: %v", err)
		}
	}
	programmes := ask.BuiltinCatalog()
	if strings.TrimSpace(cfg.ProgrammesFile) != "" {
		if programmes, err = ask.LoadCatalog(cfg.ProgrammesFile); err != nil {
			log.Fatalf("programmes: %v", err)
		}
	}

	generator, err := llm.New(ctx, llm.Options{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout(),
	})
	if err != nil {
		log.Fatalf("text generation: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)

	opts := []app.Option{
		app.WithArchive(gitrepo.New(cfg.ReposDir)),
		app.WithSearch(searchService),
		app.WithProgrammes(programmes),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for snapshot cache and run status")
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.SnapshotTTL())
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		opts = append(opts, app.WithCache(redisStore))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := artifacts.NewMinioStore(ctx, artifacts.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("artifact storage: %v", err)
		}
		opts = append(opts, app.WithArtifacts(minioStore))
	}

	if cfg.NotificationsEnabled() {
		opts = append(opts, app.WithMailer(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})))
	}

	service = app.New(cfg, dataStore, catalog, generator, opts...)
	go searchService.ReindexAll(ctx, service.Documents)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Grantsmith API listening on %s (store=%s, llm=%s)", cfg.Addr, cfg.Store, cfg.LLMProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Printf("generation runs did not finish: %v", err)
	}
}
