package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"archivum/api/internal/app"
	"archivum/api/internal/config"
	"archivum/api/internal/doccache"
	"archivum/api/internal/files"
	"archivum/api/internal/invalidation"
	"archivum/api/internal/jobs"
	"archivum/api/internal/logging"
	"archivum/api/internal/search"
	"archivum/api/internal/store"
	"archivum/api/internal/tree"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	treeStore := tree.NewStore(db)

	cache, err := doccache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer cache.Close()

	queue, err := jobs.NewQueue(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("job queue connection failed")
	}
	defer queue.Close()

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}

	resolver := invalidation.NewResolver(dataStore, treeStore)
	dispatcher := invalidation.NewDispatcher(logger)

	// The cache handler registers first: the index worker must observe
	// the bumped timestamp when it re-renders.
	graphKinds := []store.Kind{
		store.KindDocument, store.KindTitle, store.KindNote, store.KindFile,
		store.KindPerson, store.KindLicence, store.KindSeries,
		store.KindCollection, store.KindCollectionRole,
		store.KindPersonLink, store.KindLicenceLink, store.KindSeriesLink,
		store.KindCollectionLink,
	}
	dispatcher.RegisterAll(invalidation.NewCacheHandler(resolver, cache, dataStore, logger), graphKinds...)
	dispatcher.RegisterAll(invalidation.NewIndexHandler(resolver, queue, logger), graphKinds...)
	logger.Info().Str("handlers", dispatcher.String()).Msg("dispatch registry ready")

	service := app.New(dataStore, treeStore, cache, dispatcher, logger)
	if meili != nil {
		service.WithIndexer(meili)
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileService, err := files.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage connection failed")
		}
		service.WithFiles(fileService)
	}

	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn().Err(err).Msg("bootstrap checks failed, continuing")
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	worker := jobs.NewWorker(queue, service.IndexJobHandler(), logger)
	go worker.Run(workerCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("archivum api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
