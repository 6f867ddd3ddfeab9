package main

import (
	"context"

	"carrental/internal/bookings/events"
	"carrental/internal/bookings/handler"
	"carrental/internal/bookings/repository"
	"carrental/internal/bookings/service"
	"carrental/internal/bookings/validator"
	"carrental/internal/payments"
	"carrental/pkg/app"
	"carrental/pkg/config"
	"carrental/pkg/kafka"
	kafka_config "carrental/pkg/kafka/config"
	kafka_middleware "carrental/pkg/kafka/middleware"
)

const ServiceName = "bookings"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Connect()

	cfg.Log.Info("Starting Bookings service")

	store, err := repository.NewReservationStore(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to create reservation store", "error", err)
	}

	serverApp := app.NewApplication(cfg)
	publisher := initPublisher(cfg, serverApp)

	bookingValidator := validator.NewBookingValidator(cfg.Log)
	bookingService := service.NewBookingService(store, bookingValidator, publisher, cfg)
	confirmer := payments.NewConfirmer(bookingService, bookingValidator, cfg.Log)

	serverApp.SetApp(
		handler.NewHealthHandler(store, cfg.StoreDriver, cfg.Log),
		handler.NewBookingHandler(bookingService, cfg.Log),
		payments.NewWebhookHandler(confirmer, cfg.PaymentWebhookSecret, cfg.Log),
	)
	cfg.Log.Info("Booking service initialized", "store", cfg.StoreDriver, "events", cfg.EventsEnabled)
	serverApp.Run()
}

func initPublisher(cfg *config.Config, serverApp *app.Application) events.Publisher {
	if !cfg.EventsEnabled {
		return events.NewNopPublisher()
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)

	producer, err := kafka.NewProducer(kafkaCfg, kafkaCfg.BookingEventsTopic, "", cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create booking events producer", "error", err)
	}

	metrics := &kafka_middleware.Metrics{}
	producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	producer.Use(metrics.ProducerMiddleware())

	serverApp.OnShutdown(func(context.Context) {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close booking events producer", "error", err)
		}
		cfg.Log.Info("Booking events producer closed", "metrics", metrics.Snapshot())
	})

	return events.NewKafkaPublisher(producer, cfg.Log)
}
