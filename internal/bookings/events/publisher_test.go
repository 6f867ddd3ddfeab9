package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"carrental/pkg/kafka"
	"carrental/pkg/logger"
	"carrental/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	messages []kafka.Message
	err      error
}

func (p *recordingProducer) Publish(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func testBooking() *model.Booking {
	return &model.Booking{
		ID:        "b-1",
		VehicleID: "veh-1",
		StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		Status:    model.StatusConfirmed,
	}
}

func TestKafkaPublisher_KeysByVehicle(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewKafkaPublisher(producer, logger.Discard())

	ctx := logger.WithRequestID(context.Background(), "req-42")
	require.NoError(t, pub.Publish(ctx, StatusChanged(testBooking(), model.StatusPending)))

	require.Len(t, producer.messages, 1)
	msg := producer.messages[0]
	assert.Equal(t, "veh-1", msg.Key)
	assert.Equal(t, model.EventBookingStatusChanged, msg.GetEventType())
	assert.Equal(t, "req-42", msg.GetCorrelationID())

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "pending", body["previous_status"])
	assert.Equal(t, map[string]any{"start_date": "2024-06-01", "end_date": "2024-06-05"}, body["range"])
}

func TestKafkaPublisher_WrapsProducerError(t *testing.T) {
	down := errors.New("connection refused")
	pub := NewKafkaPublisher(&recordingProducer{err: down}, logger.Discard())

	err := pub.Publish(context.Background(), Created(testBooking()))
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "b-1")
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NewNopPublisher().Publish(context.Background(), Created(testBooking())))
}
