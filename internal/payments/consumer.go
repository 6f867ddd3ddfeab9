package payments

import (
	"context"

	"carrental/pkg/kafka"
	"carrental/pkg/model"
)

// HandleMessage consumes a payment.confirmed event. Bad payloads and business
// rejections are permanent so the consumer dead-letters them. Store outages are
// transient and retried.
func (c *Confirmer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var p model.PaymentConfirmation
	if err := msg.DecodeValue(&p); err != nil {
		return kafka.NewPermanentError("decode payment confirmation", err)
	}

	booking, err := c.Confirm(ctx, &p)
	if err != nil {
		if IsRetryable(err) {
			return kafka.NewTransientError("confirm payment "+p.SessionID, err)
		}
		return kafka.NewPermanentError("confirm payment "+p.SessionID, err)
	}

	c.log.Debug("Payment event processed",
		"event_id", msg.GetEventID(),
		"booking_id", booking.ID,
		"offset", msg.Offset,
	)
	return nil
}
