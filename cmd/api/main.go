package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gas-subscription-service/internal/client"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/repository"
	"gas-subscription-service/internal/server"
	"gas-subscription-service/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := client.InitMysqlClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("database init failed", "error", err)
	}
	paystackClient := client.NewPaystackClient(&cfg.Paystack)

	planRepo := repository.NewPlanRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	planner := service.NewSchedulePlanner(deliveryRepo, log)
	subscriptionService := service.NewSubscriptionService(
		paystackClient, planRepo, subRepo, txnRepo, deliveryRepo, cfg, log)
	webhookService := service.NewWebhookService(
		paystackClient, subRepo, txnRepo, webhookEventRepo, planner, cfg, log)
	fulfillmentService := service.NewFulfillmentService(subRepo, deliveryRepo, planner, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go fulfillmentService.Start(sweepCtx, cfg.Fulfillment.SweepInterval)

	srv := server.NewServer(cfg, subscriptionService, webhookService, fulfillmentService)
	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	log.Infof("starting HTTP server on %s", serverAddr)
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalw("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Infof("signal received, starting graceful shutdown")
	stopSweep()

	if err := srv.Shutdown(); err != nil {
		log.Fatalw("HTTP server shutdown error", "error", err)
	}
}
