// Package payments turns payment-gateway confirmations into confirmed bookings.
// The same Confirmer backs the Kafka consumer and the signed HTTP webhook.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/internal/bookings/service"
	"carrental/internal/bookings/validator"
	apperrors "carrental/pkg/errors"
	"carrental/pkg/logger"
	"carrental/pkg/model"
)

type Confirmer struct {
	bookings  service.BookingService
	validator *validator.BookingValidator
	log       *logger.Logger
}

func NewConfirmer(bookings service.BookingService, validator *validator.BookingValidator, log *logger.Logger) *Confirmer {
	return &Confirmer{
		bookings:  bookings,
		validator: validator,
		log:       log,
	}
}

// Confirm books the paid reservation and moves it to confirmed. Redelivering
// the same confirmation returns the already confirmed booking.
func (c *Confirmer) Confirm(ctx context.Context, p *model.PaymentConfirmation) (*model.Booking, error) {
	if err := c.validator.ValidatePaymentConfirmation(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, apperrors.Validation("Invalid payment confirmation", verrs.Details())
		}
		return nil, apperrors.InvalidInput(err.Error())
	}

	booking, created, err := c.bookings.CreateBooking(ctx, p.ToCreateRequest())
	if err != nil {
		c.log.Warn("Payment confirmation could not be booked",
			"session_id", p.SessionID,
			"vehicle_id", p.Booking.VehicleID,
			"error", err,
		)
		return nil, err
	}

	switch booking.Status {
	case model.StatusConfirmed:
		c.log.Info("Payment confirmation already applied", "session_id", p.SessionID, "booking_id", booking.ID)
		return booking, nil
	case model.StatusPending:
	default:
		return nil, apperrors.Wrap(bookingserrors.ErrInvalidTransition, apperrors.CodeInvalidTransition,
			fmt.Sprintf("Booking %s paid by session %s is %s", booking.ID, p.SessionID, booking.Status), http.StatusConflict)
	}

	confirmed, err := c.bookings.UpdateStatus(ctx, booking.ID, model.StatusConfirmed)
	if err != nil {
		// A concurrent redelivery may have confirmed it first.
		if current, getErr := c.bookings.GetByID(ctx, booking.ID); getErr == nil && current.Status == model.StatusConfirmed {
			return current, nil
		}
		return nil, err
	}

	c.log.Info("Booking confirmed by payment",
		"session_id", p.SessionID,
		"booking_id", confirmed.ID,
		"vehicle_id", confirmed.VehicleID,
		"created", created,
	)
	return confirmed, nil
}

// IsRetryable reports whether a Confirm error may succeed on a later attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, bookingserrors.ErrTransient) {
		return true
	}
	return apperrors.HasCode(err, apperrors.CodeUnavailable) ||
		apperrors.HasCode(err, apperrors.CodeInternal) ||
		apperrors.HasCode(err, apperrors.CodeTimeout)
}
