package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoplanner/internal/bot"
	"geoplanner/internal/config"
	"geoplanner/internal/geofence"
	"geoplanner/internal/notify"
	"geoplanner/internal/realtime"
	"geoplanner/internal/remote"
	"geoplanner/internal/repository"
	"geoplanner/internal/service"
	"geoplanner/internal/sync"
	"geoplanner/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	hub := realtime.NewHub()
	taskRepo := repository.NewTaskRepository(db, hub)
	categoryRepo := repository.NewCategoryRepository(db, hub)
	locationRepo := repository.NewLocationRepository(db, hub)
	projectRepo := repository.NewProjectRepository(db, hub)

	pool := worker.NewPool(cfg.Workers)
	defer pool.Stop()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatalf("telegram: %v", err)
		}
		notifier = tg
	}

	monitor := geofence.NewMemoryMonitor()
	geofenceSvc := geofence.NewService(monitor, taskRepo, locationRepo, notifier)

	categorySvc := service.NewCategoryService(categoryRepo, taskRepo)
	taskSvc := service.NewTaskService(taskRepo, categoryRepo, locationRepo, geofenceSvc, pool)
	locationSvc := service.NewLocationService(locationRepo, taskRepo, geofenceSvc, pool)
	aggregationSvc := service.NewAggregationService(taskRepo, hub, pool)
	archiveSvc := service.NewArchiveService(taskRepo, pool)
	digestSvc := service.NewDigestService(aggregationSvc, categoryRepo)

	if err := categorySvc.SeedDefaults(ctx); err != nil {
		log.Fatalf("seed categories: %v", err)
	}

	// Archival must run before the active-task view is first read.
	if err := archiveSvc.ArchiveOldCompleted(ctx, time.Now()); err != nil {
		log.Fatalf("archive: %v", err)
	}
	if err := geofenceSvc.InitializeAll(ctx); err != nil {
		log.Fatalf("geofences: %v", err)
	}

	var store remote.Store
	if cfg.RemoteBaseURL != "" {
		store = remote.NewRESTStore(cfg.RemoteBaseURL, cfg.RemoteToken, cfg.RemotePollPeriod)
	} else {
		log.Println("no remote configured, collaboration runs against in-memory store")
		store = remote.NewMemoryStore()
	}

	engine := sync.NewEngine(store, projectRepo, taskRepo, pool)
	if err := engine.Start(ctx); err != nil {
		if errors.Is(err, remote.ErrNoUser) {
			log.Println("sync: no authenticated user, collaboration disabled")
		} else {
			log.Printf("sync: %v", err)
		}
	}
	defer engine.Stop()

	scheduler := service.NewSchedulerService(time.Local)
	if _, err := scheduler.ScheduleMidnight(func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := archiveSvc.ArchiveOldCompleted(jobCtx, time.Now()); err != nil {
			log.Printf("archive: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule archive: %v", err)
	}
	if cfg.SyncInterval > 0 {
		if _, err := scheduler.ScheduleInterval(cfg.SyncInterval, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := engine.PerformManualSync(jobCtx); err != nil && !errors.Is(err, sync.ErrNotStarted) {
				log.Printf("resync: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule resync: %v", err)
		}
	}
	if cfg.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			summary, err := digestSvc.DailySummary(jobCtx, time.Now())
			if err != nil {
				log.Printf("digest: %v", err)
				return
			}
			if err := notifier.NotifyText(jobCtx, summary); err != nil {
				log.Printf("digest: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule digest: %v", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	go geofenceSvc.Run(ctx, monitor.Transitions())

	log.Println("geoplanner started.")
	if cfg.TelegramToken != "" {
		commandBot, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, taskSvc, locationSvc, aggregationSvc, digestSvc, engine)
		if err != nil {
			log.Fatalf("bot: %v", err)
		}
		if err := commandBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("bot stopped with error: %v", err)
		}
	} else {
		<-ctx.Done()
	}
	log.Println("Shutdown complete.")
}
