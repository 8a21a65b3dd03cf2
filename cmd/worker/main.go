package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"schoolattendance/internal/config"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

// Worker consumes recovery-code notifications and delivers them to administrators.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("QUEUE_BACKEND=%s: the API drains in-memory queues itself, nothing to do here", cfg.QueueBackend)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}

	w := &notify.Worker{
		Queue: queue.NewRedisQueue(redisClient.Client, ""),
		Sink:  notify.Delivery(cfg.NotifyWebhookURL),
	}
	if cfg.NotifyWebhookURL == "" {
		log.Println("NOTIFY_WEBHOOK_URL not set, notifications go to the log")
	}

	log.Println("worker started, waiting for notifications...")
	if err := w.Run(ctx); err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}
	log.Println("worker stopped")
}
