package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"carrental/internal/bookings/events"
	"carrental/internal/bookings/repository"
	"carrental/internal/bookings/service"
	"carrental/internal/bookings/validator"
	"carrental/internal/payments"
	"carrental/pkg/config"
	"carrental/pkg/kafka"
	kafka_config "carrental/pkg/kafka/config"
	kafka_middleware "carrental/pkg/kafka/middleware"
)

const ServiceName = "payment-confirmations"

const metricsInterval = time.Minute

func main() {
	cfg := config.Load(ServiceName)
	cfg.Connect()
	defer cfg.GracefulShutdown()

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)

	store, err := repository.NewReservationStore(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to create reservation store", "error", err)
	}

	metrics := &kafka_middleware.Metrics{}

	publisher := events.NewNopPublisher()
	if cfg.EventsEnabled {
		producer, err := kafka.NewProducer(kafkaCfg, kafkaCfg.BookingEventsTopic, "", cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Failed to create booking events producer", "error", err)
		}
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		producer.Use(metrics.ProducerMiddleware())
		defer func() {
			if err := producer.Close(); err != nil {
				cfg.Log.Error("Failed to close booking events producer", "error", err)
			}
		}()
		publisher = events.NewKafkaPublisher(producer, cfg.Log)
	}

	bookingValidator := validator.NewBookingValidator(cfg.Log)
	bookingService := service.NewBookingService(store, bookingValidator, publisher, cfg)
	confirmer := payments.NewConfirmer(bookingService, bookingValidator, cfg.Log)

	consumer, err := kafka.NewConsumer(
		kafkaCfg,
		kafkaCfg.PaymentsTopic,
		kafkaCfg.PaymentsConsumerGroup,
		kafkaCfg.PaymentsDLQTopic,
		confirmer.HandleMessage,
		cfg.Log,
	)
	if err != nil {
		cfg.Log.Fatal("Failed to create payments consumer", "error", err)
	}
	consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
	consumer.Use(metrics.ConsumerMiddleware())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reportMetrics(ctx, cfg, metrics)

	cfg.Log.Info("Consuming payment confirmations",
		"topic", kafkaCfg.PaymentsTopic,
		"group", kafkaCfg.PaymentsConsumerGroup,
		"dlq", kafkaCfg.PaymentsDLQTopic,
		"store", cfg.StoreDriver,
	)

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.Error("Payments consumer stopped", "error", err)
	}

	if err := consumer.Close(); err != nil {
		cfg.Log.Error("Failed to close payments consumer", "error", err)
	}
	cfg.Log.Info("Payments consumer stopped", "metrics", metrics.Snapshot())
}

func reportMetrics(ctx context.Context, cfg *config.Config, metrics *kafka_middleware.Metrics) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg.Log.Info("Payments consumer metrics", "metrics", metrics.Snapshot())
		}
	}
}
