package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheOutdoorProgrammer/scrypted-otel/core/consumer"
	"github.com/TheOutdoorProgrammer/scrypted-otel/core/server"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/config"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mongoClient, err := db.NewMongoConnection(cfg.Mongo.URI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	srv, err := server.NewServer(
		server.WithKafka(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.EventTopic, cfg.Kafka.ForwardTopic),
		server.WithMongoDB(mongoClient, cfg.Mongo.Database),
		server.WithSettings(cfg.Telemetry),
		server.WithConsumer(consumer.NewLogConsumer("Forwarder")),
		server.WithWorkerConfig(cfg.Server.WorkerCount, cfg.Server.BatchSize),
		server.WithPort(cfg.Server.Port),
	)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received...")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	srv.Close()
	log.Println("Server shutdown complete")
}
