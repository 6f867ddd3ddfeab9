package events

import (
	"context"
	"fmt"

	"carrental/pkg/kafka"
	"carrental/pkg/logger"
	"carrental/pkg/model"
)

const (
	eventSource   = "carrental-bookings"
	schemaVersion = "1"
)

// Publisher announces booking lifecycle changes after they commit.
type Publisher interface {
	Publish(ctx context.Context, event model.BookingEvent) error
}

type MessageProducer interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type kafkaPublisher struct {
	producer MessageProducer
	log      *logger.Logger
}

// NewKafkaPublisher keys every event by vehicle id so a consumer sees one
// vehicle's bookings in commit order.
func NewKafkaPublisher(producer MessageProducer, log *logger.Logger) Publisher {
	return &kafkaPublisher{producer: producer, log: log}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event model.BookingEvent) error {
	msg, err := kafka.NewMessage().
		WithKey(event.VehicleID).
		WithValue(event).
		WithEventType(event.Type).
		WithCorrelationID(logger.RequestIDFromContext(ctx)).
		WithSchemaVersion(schemaVersion).
		WithSource(eventSource).
		Build()
	if err != nil {
		return fmt.Errorf("build %s event for booking %s: %w", event.Type, event.BookingID, err)
	}

	if err := p.producer.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event for booking %s: %w", event.Type, event.BookingID, err)
	}
	p.log.Debug("Booking event published", "type", event.Type, "booking_id", event.BookingID, "event_id", msg.GetEventID())
	return nil
}

type nopPublisher struct{}

// NewNopPublisher drops every event. Used when EVENTS_ENABLED is false.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, model.BookingEvent) error {
	return nil
}

func Created(b *model.Booking) model.BookingEvent {
	return model.BookingEvent{
		Type:      model.EventBookingCreated,
		BookingID: b.ID,
		VehicleID: b.VehicleID,
		Status:    b.Status,
		Range:     b.Range(),
	}
}

func StatusChanged(b *model.Booking, previous model.BookingStatus) model.BookingEvent {
	return model.BookingEvent{
		Type:           model.EventBookingStatusChanged,
		BookingID:      b.ID,
		VehicleID:      b.VehicleID,
		Status:         b.Status,
		PreviousStatus: previous,
		Range:          b.Range(),
	}
}
