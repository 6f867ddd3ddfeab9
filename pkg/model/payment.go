package model

// PaymentConfirmation is published by the payment gateway integration once a checkout
// session is paid. SessionID becomes the booking's external payment reference.
type PaymentConfirmation struct {
	SessionID string             `json:"session_id" validate:"required,max=255"`
	UserID    string             `json:"user_id,omitempty"`
	Booking   PaymentBookingData `json:"booking" validate:"required"`
}

type PaymentBookingData struct {
	VehicleID      string  `json:"vehicle_id"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	PickupLocation string  `json:"pickup_location"`
	PickupTime     string  `json:"pickup_time"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	Notes          string  `json:"notes,omitempty"`
	CouponCode     string  `json:"coupon_code,omitempty"`
	TotalPrice     float64 `json:"total_price"`
}

func (p *PaymentConfirmation) ToCreateRequest() *CreateBookingRequest {
	return &CreateBookingRequest{
		VehicleID:          p.Booking.VehicleID,
		StartDate:          p.Booking.StartDate,
		EndDate:            p.Booking.EndDate,
		UserID:             p.UserID,
		PickupLocation:     p.Booking.PickupLocation,
		PickupTime:         p.Booking.PickupTime,
		Email:              p.Booking.Email,
		Phone:              p.Booking.Phone,
		Notes:              p.Booking.Notes,
		CouponCode:         p.Booking.CouponCode,
		TotalPrice:         p.Booking.TotalPrice,
		ExternalPaymentRef: p.SessionID,
	}
}

// BookingEvent is emitted on the booking events topic after a lifecycle change commits.
type BookingEvent struct {
	Type           string        `json:"type"`
	BookingID      string        `json:"booking_id"`
	VehicleID      string        `json:"vehicle_id"`
	Status         BookingStatus `json:"status"`
	PreviousStatus BookingStatus `json:"previous_status,omitempty"`
	Range          DateRange     `json:"range"`
}

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
)
