package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/calendar"
	"github.com/vrchat-guide/event-sync-service/internal/config"
	"github.com/vrchat-guide/event-sync-service/internal/embedding"
	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
	"github.com/vrchat-guide/event-sync-service/internal/httpserver"
	"github.com/vrchat-guide/event-sync-service/internal/logger"
	"github.com/vrchat-guide/event-sync-service/internal/query"
	"github.com/vrchat-guide/event-sync-service/internal/store"
	"github.com/vrchat-guide/event-sync-service/internal/syncservice"
)

// main boots the API server: config → DB → schema → embedding index →
// calendar (optional) → HTTP router, with a cron-driven index refresh.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.ServiceEnvironment)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	db, err := store.NewPostgresStore(cfg.DatabaseURL())
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		zlog.Fatal("failed to ensure schema", zap.Error(err))
	}

	embedder := embedding.NewOllamaClient(cfg.EmbedderHost, cfg.EmbedModel)
	index, err := embedding.NewIndex(embedder, db, cfg.IndexDir, zlog)
	if err != nil {
		zlog.Fatal("failed to create embedding index", zap.Error(err))
	}

	textSources := map[embedding.ContentType]string{
		embedding.TypeGeneralInfo: filepath.Join(cfg.DataDir, "vrchat_general_info.txt"),
		embedding.TypeCommunity:   filepath.Join(cfg.DataDir, "vrchat_community_guidelines.txt"),
		embedding.TypeGuide:       filepath.Join(cfg.DataDir, "vrchat_user_guide.txt"),
	}

	resync := func(ctx context.Context) error {
		if err := index.SyncWithDatabase(ctx); err != nil {
			return err
		}
		for _, ct := range []embedding.ContentType{embedding.TypeGeneralInfo, embedding.TypeCommunity, embedding.TypeGuide} {
			if err := index.Reset(ct); err != nil {
				return err
			}
		}
		return index.LoadTextSources(ctx, textSources)
	}

	if err := resync(ctx); err != nil {
		// The embedder may not be up yet; POST /sync retries later.
		zlog.Warn("initial index sync failed", zap.Error(err))
	}

	// The calendar write path is optional: without credentials the server
	// still serves search and relational queries.
	var writer *eventstore.Store
	var reporter *syncservice.Service

	calClient, err := calendar.NewClient(cfg.CredentialsFile, cfg.TokenFile, zlog)
	if err == nil {
		svc, serr := calClient.Service(ctx)
		if serr != nil {
			zlog.Warn("calendar credentials unavailable, write path disabled", zap.Error(serr))
		} else {
			writer = eventstore.New(eventstore.NewGoogleAPI(svc), cfg.CalendarID, cfg.PrivateCalendarID, zlog)
			reporter = syncservice.New(writer, db,
				time.Duration(cfg.SyncIntervalSec)*time.Second, zlog)
			reporter.Start()
		}
	} else {
		zlog.Warn("calendar client unavailable, write path disabled", zap.Error(err))
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.IndexRefreshSpec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := resync(refreshCtx); err != nil {
			zlog.Error("scheduled index refresh failed", zap.Error(err))
		}
	}); err != nil {
		zlog.Fatal("invalid index refresh spec", zap.Error(err))
	}
	scheduler.Start()

	deps := httpserver.Deps{
		DB:     db,
		Index:  index,
		Resync: resync,
		Facade: query.New(db, index, zlog),
	}
	if writer != nil {
		deps.Writer = writer
		deps.Reporter = reporter
	}

	router := httpserver.NewRouter(cfg, deps, zlog)
	srv := &http.Server{
		Addr:    ":" + cfg.ServiceAPIPort,
		Handler: router,
	}

	go func() {
		zlog.Info("server started", zap.String("port", cfg.ServiceAPIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	zlog.Info("shutting down")
	scheduler.Stop()
	if reporter != nil {
		reporter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown error", zap.Error(err))
	}
}
