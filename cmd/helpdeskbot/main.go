package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helpdesk-bot/internal/bot"
	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/repository"
	"helpdesk-bot/internal/rowstore"
	"helpdesk-bot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := rowstore.NewSQLite(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("rowstore: %v", err)
	}
	if sqlDB, err := store.DB().DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(store)
	requestRepo := repository.NewRequestRepository(store)

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	requestSvc := service.NewRequestService(requestRepo, bot.NewNotifier(api))
	digestSvc := service.NewDigestService(requestRepo)

	telegramBot := bot.New(api, userRepo, requestSvc, digestSvc, cfg)

	scheduler := service.NewSchedulerService(time.Local)
	if cfg.DigestInterval > 0 {
		if _, err := scheduler.ScheduleInterval(cfg.DigestInterval, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := telegramBot.SendPendingDigest(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("digest: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule digest: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	log.Println("Helpdesk bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
