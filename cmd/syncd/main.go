package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/calendar"
	"github.com/vrchat-guide/event-sync-service/internal/config"
	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
	"github.com/vrchat-guide/event-sync-service/internal/logger"
	"github.com/vrchat-guide/event-sync-service/internal/store"
	"github.com/vrchat-guide/event-sync-service/internal/syncservice"
)

// main runs the standalone calendar sync daemon: it pulls upcoming events
// from Google Calendar into Postgres on a fixed cadence until interrupted.
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

	calClient, err := calendar.NewClient(cfg.CredentialsFile, cfg.TokenFile, zlog)
	if err != nil {
		zlog.Fatal("failed to create calendar client", zap.Error(err))
	}

	svc, err := calClient.Service(ctx)
	if err != nil {
		zlog.Fatal("failed to obtain calendar credentials", zap.Error(err))
	}

	events := eventstore.New(eventstore.NewGoogleAPI(svc), cfg.CalendarID, cfg.PrivateCalendarID, zlog)
	syncSvc := syncservice.New(events, db,
		time.Duration(cfg.SyncIntervalSec)*time.Second, zlog)

	syncSvc.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	zlog.Info("shutting down")
	syncSvc.Stop()
}
