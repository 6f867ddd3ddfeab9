package repository

import (
	"context"

	"carrental/pkg/model"
)

// AtomicFunc is the body of a RunAtomic block. Store calls made with the ctx it
// receives take part in the same unit of work.
type AtomicFunc func(ctx context.Context) error

// ReservationStore owns vehicles and bookings. Errors are reported with the
// sentinels in internal/bookings/errors so callers can tell not-found,
// conflict, duplicate-reference and transient failures apart.
type ReservationStore interface {
	VehicleExists(ctx context.Context, vehicleID string) (bool, error)

	// FindActiveBookingsOverlapping returns every pending or confirmed booking of
	// vehicleID whose dates overlap r.
	FindActiveBookingsOverlapping(ctx context.Context, vehicleID string, r model.DateRange) ([]*model.Booking, error)

	// NewBookingID returns an id in this store's format. InsertBooking keeps a
	// preset id, so a caller can find its own booking again after an ambiguous commit.
	NewBookingID() string

	// InsertBooking persists booking and returns its id. It fails with
	// ErrDuplicatePaymentRef when the payment reference is taken and with
	// ErrVehicleNotFound when the vehicle does not exist.
	InsertBooking(ctx context.Context, booking *model.Booking) (string, error)

	// RunAtomic executes fn so that two blocks for the same vehicle can never both
	// insert overlapping bookings. Blocks for different vehicles do not serialize.
	// Contention and exceeding the store's time budget surface as ErrTransient.
	RunAtomic(ctx context.Context, vehicleID string, fn AtomicFunc) error

	FindByID(ctx context.Context, id string) (*model.Booking, error)
	FindByPaymentRef(ctx context.Context, ref string) (*model.Booking, error)
	FindByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, error)
	Count(ctx context.Context) (int64, error)

	// UpdateStatus moves the booking from one status to another only if it is
	// still in from. Otherwise it fails with ErrStatusChanged.
	UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error)
	UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error)

	Ping(ctx context.Context) error
}
