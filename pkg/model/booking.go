package model

import (
	"time"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// ActiveStatuses are the statuses that block a vehicle for their date range.
var ActiveStatuses = []BookingStatus{StatusPending, StatusConfirmed}

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

func (s BookingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s BookingStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                 string        `json:"id,omitempty" bson:"_id,omitempty"`
	VehicleID          string        `json:"vehicle_id" bson:"vehicle_id"`
	UserID             *string       `json:"user_id,omitempty" bson:"user_id,omitempty"`
	StartDate          time.Time     `json:"start_date" bson:"start_date"`
	EndDate            time.Time     `json:"end_date" bson:"end_date"`
	PickupLocation     string        `json:"pickup_location" bson:"pickup_location"`
	PickupTime         string        `json:"pickup_time" bson:"pickup_time"`
	Email              string        `json:"email" bson:"email"`
	Phone              string        `json:"phone" bson:"phone"`
	Notes              string        `json:"notes,omitempty" bson:"notes,omitempty"`
	CouponCode         string        `json:"coupon_code,omitempty" bson:"coupon_code,omitempty"`
	TotalPrice         float64       `json:"total_price" bson:"total_price"`
	Status             BookingStatus `json:"status" bson:"status"`
	ExternalPaymentRef *string       `json:"external_payment_ref,omitempty" bson:"external_payment_ref,omitempty"`
	CreatedAt          time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" bson:"updated_at"`
}

func (b *Booking) Range() DateRange {
	return DateRange{StartDate: b.StartDate, EndDate: b.EndDate}
}

// OwnedBy reports whether the booking was made by userID. Guest bookings are owned by nobody.
func (b *Booking) OwnedBy(userID string) bool {
	return b.UserID != nil && userID != "" && *b.UserID == userID
}

// SameReservation reports whether b reserves vehicleID for exactly r.
func (b *Booking) SameReservation(vehicleID string, r DateRange) bool {
	return b.VehicleID == vehicleID && b.StartDate.Equal(r.StartDate) && b.EndDate.Equal(r.EndDate)
}

type CreateBookingRequest struct {
	VehicleID          string  `json:"vehicle_id" validate:"required,max=64"`
	StartDate          string  `json:"start_date" validate:"required"`
	EndDate            string  `json:"end_date" validate:"required"`
	UserID             string  `json:"user_id,omitempty" validate:"omitempty,max=64"`
	PickupLocation     string  `json:"pickup_location" validate:"required,min=2,max=200"`
	PickupTime         string  `json:"pickup_time" validate:"required,pickup_time"`
	Email              string  `json:"email" validate:"required,email,max=254"`
	Phone              string  `json:"phone" validate:"required,e164"`
	Notes              string  `json:"notes,omitempty" validate:"omitempty,max=1000"`
	CouponCode         string  `json:"coupon_code,omitempty" validate:"omitempty,max=50"`
	TotalPrice         float64 `json:"total_price" validate:"gte=0"`
	ExternalPaymentRef string  `json:"external_payment_ref,omitempty" validate:"omitempty,max=255"`
}

type AvailabilityRequest struct {
	VehicleID string `json:"vehicle_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type AvailabilityResult struct {
	Available bool        `json:"available"`
	Conflicts []DateRange `json:"conflicts,omitempty"`
}

// BookingDetailsUpdate edits the non-reservation fields of a booking.
// Vehicle, dates and status are never changed through it.
type BookingDetailsUpdate struct {
	PickupLocation *string `json:"pickup_location,omitempty" validate:"omitempty,min=2,max=200"`
	PickupTime     *string `json:"pickup_time,omitempty" validate:"omitempty,pickup_time"`
	Email          *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone          *string `json:"phone,omitempty" validate:"omitempty,e164"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

func (u *BookingDetailsUpdate) IsEmpty() bool {
	return u.PickupLocation == nil && u.PickupTime == nil && u.Email == nil && u.Phone == nil && u.Notes == nil
}

type StatusUpdate struct {
	Status BookingStatus `json:"status"`
}
