package errors

import (
	"errors"
	"fmt"
	"strings"

	"carrental/pkg/model"
)

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	ErrVehicleNotFound = errors.New("vehicle not found")

	ErrInvalidDateRange = errors.New("start date must be before end date")

	// ErrConflict means an active booking already covers part of the requested range.
	ErrConflict = errors.New("vehicle is already booked for the requested dates")

	ErrDuplicatePaymentRef = errors.New("payment reference already used by another booking")

	// ErrTransient marks store contention or timeouts. The whole atomic block may be retried.
	ErrTransient = errors.New("transient reservation store failure")

	ErrUnavailable = errors.New("reservation store unavailable after retries")

	ErrInvalidTransition = errors.New("booking status transition not allowed")

	// ErrStatusChanged is returned by a conditional status update when the booking moved on concurrently.
	ErrStatusChanged = errors.New("booking status changed concurrently")

	ErrForbidden = errors.New("booking belongs to another user")
)

// ConflictError lists the date ranges of the active bookings that block a reservation.
type ConflictError struct {
	VehicleID string
	Conflicts []model.DateRange
}

func (e *ConflictError) Error() string {
	ranges := make([]string, len(e.Conflicts))
	for i, r := range e.Conflicts {
		ranges[i] = r.String()
	}
	return fmt.Sprintf("%v: vehicle %s overlaps %s", ErrConflict, e.VehicleID, strings.Join(ranges, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func NewConflictError(vehicleID string, bookings []*model.Booking) *ConflictError {
	conflicts := make([]model.DateRange, 0, len(bookings))
	for _, b := range bookings {
		conflicts = append(conflicts, b.Range())
	}
	return &ConflictError{VehicleID: vehicleID, Conflicts: conflicts}
}
