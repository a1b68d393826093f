package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"scrivono/api/internal/app"
	"scrivono/api/internal/config"
	"scrivono/api/internal/email"
	"scrivono/api/internal/export"
	"scrivono/api/internal/gitrepo"
	"scrivono/api/internal/metrics"
	"scrivono/api/internal/objectstore"
	"scrivono/api/internal/search"
	"scrivono/api/internal/session"
	"scrivono/api/internal/store"
)

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		log.Printf("applied migration %s", version)
	}
	return db, nil
}

func newSearch(cfg config.Config, db *sql.DB) (*search.Service, func()) {
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	closeFn := func() {}
	if meiliClient != nil {
		closeFn = meiliClient.Close
	}
	return search.NewService(meiliClient, search.NewPgFTS(db)), closeFn
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	searchService, closeSearch := newSearch(cfg, db)
	defer closeSearch()

	collector := metrics.NewCollector()
	metricsHandler, err := metrics.Handler(collector)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	deps := app.Deps{
		Store:     store.NewPostgresStore(db),
		Sessions:  sessions,
		Git:       gitrepo.New(cfg.ReposDir),
		Search:    searchService,
		Exporter:  export.NewService(),
		Reactions: collector,
		Follows:   collector,
		Retries:   collector,
	}

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	switch {
	case errors.Is(err, objectstore.ErrNotConfigured):
		log.Printf("object storage not configured, exports are returned inline")
	case err != nil:
		return err
	default:
		if err := objects.EnsureBucket(ctx); err != nil {
			return err
		}
		deps.Objects = objects
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mail = mailer
	} else {
		log.Printf("SMTP not configured, welcome emails are disabled")
	}

	service := app.New(cfg, deps)
	httpServer, err := app.NewHTTPServer(service, app.ServerOptions{
		Metrics:  metricsHandler,
		Observer: collector,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Scrivono API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

// migrate applies pending migrations, or reverts the newest ones when down > 0.
func migrate(ctx context.Context, cfg config.Config, down int) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if down > 0 {
		reverted, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, down)
		for _, version := range reverted {
			log.Printf("rolled back migration %s", version)
		}
		return err
	}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	for _, version := range applied {
		log.Printf("applied migration %s", version)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Printf("database is up to date")
	}
	return nil
}

func reindex(ctx context.Context, cfg config.Config) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	searchService, closeSearch := newSearch(cfg, db)
	defer closeSearch()

	books, chapters, err := searchService.ReindexAll(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	log.Printf("reindexed %d books and %d chapters", books, chapters)
	return nil
}
