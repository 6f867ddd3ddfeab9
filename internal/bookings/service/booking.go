package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/internal/bookings/events"
	"carrental/internal/bookings/repository"
	"carrental/internal/bookings/validator"
	"carrental/pkg/config"
	apperrors "carrental/pkg/errors"
	"carrental/pkg/model"
	"carrental/pkg/sanitizer"

	"github.com/sethvargo/go-retry"
)

type BookingService interface {
	// CheckAvailability reports whether vehicleID is free for [start, end). It never writes.
	CheckAvailability(ctx context.Context, vehicleID, start, end string) (*model.AvailabilityResult, error)

	// CreateBooking reserves a vehicle as a pending booking. The bool is false when
	// the request replays an earlier booking with the same payment reference.
	CreateBooking(ctx context.Context, req *model.CreateBookingRequest) (*model.Booking, bool, error)

	GetByID(ctx context.Context, id string) (*model.Booking, error)
	ListAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	ListByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, int64, error)
	UpdateStatus(ctx context.Context, id string, status model.BookingStatus) (*model.Booking, error)
	Cancel(ctx context.Context, id, userID string) (*model.Booking, error)
	UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error)
	Ping(ctx context.Context) error
}

type bookingService struct {
	store     repository.ReservationStore
	validator *validator.BookingValidator
	publisher events.Publisher
	cfg       *config.Config
}

func NewBookingService(
	store repository.ReservationStore,
	validator *validator.BookingValidator,
	publisher events.Publisher,
	cfg *config.Config,
) BookingService {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	return &bookingService{
		store:     store,
		validator: validator,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *bookingService) CheckAvailability(ctx context.Context, vehicleID, start, end string) (*model.AvailabilityResult, error) {
	dr, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	if err := s.requireVehicle(ctx, vehicleID); err != nil {
		return nil, err
	}

	var overlapping []*model.Booking
	err = s.withRetry(ctx, "check availability", func(ctx context.Context) error {
		var findErr error
		overlapping, findErr = s.store.FindActiveBookingsOverlapping(ctx, vehicleID, dr)
		return findErr
	})
	if err != nil {
		return nil, s.toAppError(err, "check availability")
	}

	conflicts := bookingserrors.NewConflictError(vehicleID, overlapping).Conflicts
	return &model.AvailabilityResult{
		Available: len(conflicts) == 0,
		Conflicts: conflicts,
	}, nil
}

func (s *bookingService) CreateBooking(ctx context.Context, req *model.CreateBookingRequest) (*model.Booking, bool, error) {
	sanitizer.SanitizeCreateRequest(req)

	dr, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, false, err
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, false, s.validationError("Invalid booking request", err)
	}
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return nil, false, err
	}

	var (
		booking *model.Booking
		created bool
	)
	// One id for every attempt: a commit that succeeded but reported a transient
	// error is found again by id instead of conflicting with itself.
	id := s.store.NewBookingID()
	err = s.withRetry(ctx, "create booking", func(ctx context.Context) error {
		var reserveErr error
		booking, created, reserveErr = s.reserve(ctx, id, req, dr)
		return reserveErr
	})
	if err != nil {
		if errors.Is(err, bookingserrors.ErrDuplicatePaymentRef) {
			return s.replay(ctx, req, dr, err)
		}
		if errors.Is(err, bookingserrors.ErrConflict) {
			err = s.describeConflict(ctx, req.VehicleID, dr, err)
		}
		s.cfg.Log.Warn("Booking not created",
			"vehicle_id", req.VehicleID,
			"range", dr.String(),
			"error", err,
		)
		return nil, false, s.toAppError(err, "create booking")
	}

	if !created {
		s.cfg.Log.Info("Booking request replayed",
			"id", booking.ID,
			"vehicle_id", booking.VehicleID,
			"external_payment_ref", req.ExternalPaymentRef,
		)
		return booking, false, nil
	}

	s.cfg.Log.Info("Booking created successfully",
		"id", booking.ID,
		"vehicle_id", booking.VehicleID,
		"range", dr.String(),
	)
	s.publish(ctx, events.Created(booking))
	return booking, true, nil
}

// reserve is one attempt of the check-then-insert. It runs entirely inside the
// store's atomic block for the vehicle.
func (s *bookingService) reserve(ctx context.Context, id string, req *model.CreateBookingRequest, dr model.DateRange) (*model.Booking, bool, error) {
	var (
		result  *model.Booking
		created bool
	)
	err := s.store.RunAtomic(ctx, req.VehicleID, func(ctx context.Context) error {
		result, created = nil, false

		own, err := s.store.FindByID(ctx, id)
		switch {
		case err == nil:
			result, created = own, true
			return nil
		case !errors.Is(err, bookingserrors.ErrNotFound):
			return err
		}

		if req.ExternalPaymentRef != "" {
			existing, err := s.store.FindByPaymentRef(ctx, req.ExternalPaymentRef)
			switch {
			case err == nil:
				if !existing.SameReservation(req.VehicleID, dr) {
					return fmt.Errorf("%w: %s belongs to booking %s", bookingserrors.ErrDuplicatePaymentRef, req.ExternalPaymentRef, existing.ID)
				}
				result = existing
				return nil
			case !errors.Is(err, bookingserrors.ErrNotFound):
				return err
			}
		}

		overlapping, err := s.store.FindActiveBookingsOverlapping(ctx, req.VehicleID, dr)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return bookingserrors.NewConflictError(req.VehicleID, overlapping)
		}

		booking := newBooking(id, req, dr)
		if _, err := s.store.InsertBooking(ctx, booking); err != nil {
			return err
		}
		result, created = booking, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// replay resolves a payment reference collision that happened outside the
// atomic lookup, e.g. the same reference racing on two vehicles.
func (s *bookingService) replay(ctx context.Context, req *model.CreateBookingRequest, dr model.DateRange, cause error) (*model.Booking, bool, error) {
	existing, err := s.store.FindByPaymentRef(ctx, req.ExternalPaymentRef)
	if err == nil && existing.SameReservation(req.VehicleID, dr) {
		return existing, false, nil
	}
	s.cfg.Log.Warn("Payment reference already used",
		"external_payment_ref", req.ExternalPaymentRef,
		"vehicle_id", req.VehicleID,
	)
	return nil, false, s.toAppError(cause, "create booking")
}

// describeConflict fills in the blocking ranges when the store reported a
// conflict without them (the Postgres exclusion constraint does that).
func (s *bookingService) describeConflict(ctx context.Context, vehicleID string, dr model.DateRange, err error) error {
	var conflict *bookingserrors.ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	overlapping, findErr := s.store.FindActiveBookingsOverlapping(ctx, vehicleID, dr)
	if findErr != nil {
		return err
	}
	return bookingserrors.NewConflictError(vehicleID, overlapping)
}

func newBooking(id string, req *model.CreateBookingRequest, dr model.DateRange) *model.Booking {
	b := &model.Booking{
		ID:             id,
		VehicleID:      req.VehicleID,
		StartDate:      dr.StartDate,
		EndDate:        dr.EndDate,
		PickupLocation: req.PickupLocation,
		PickupTime:     req.PickupTime,
		Email:          req.Email,
		Phone:          req.Phone,
		Notes:          req.Notes,
		CouponCode:     req.CouponCode,
		TotalPrice:     req.TotalPrice,
		Status:         model.StatusPending,
	}
	if req.UserID != "" {
		userID := req.UserID
		b.UserID = &userID
	}
	if req.ExternalPaymentRef != "" {
		ref := req.ExternalPaymentRef
		b.ExternalPaymentRef = &ref
	}
	return b
}

func (s *bookingService) requireVehicle(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return apperrors.Validation("Invalid booking request", map[string]any{"vehicle_id": "vehicle_id is required"})
	}

	var exists bool
	err := s.withRetry(ctx, "check vehicle", func(ctx context.Context) error {
		var existsErr error
		exists, existsErr = s.store.VehicleExists(ctx, vehicleID)
		return existsErr
	})
	if err != nil {
		return s.toAppError(err, "check vehicle")
	}
	if !exists {
		return s.toAppError(fmt.Errorf("%w: %s", bookingserrors.ErrVehicleNotFound, vehicleID), "check vehicle")
	}
	return nil
}

func parseRange(start, end string) (model.DateRange, error) {
	dr, err := model.ParseDateRange(start, end)
	if err != nil {
		return model.DateRange{}, apperrors.InvalidDateRange(err.Error(), fmt.Errorf("%w: %v", bookingserrors.ErrInvalidDateRange, err))
	}
	return dr, nil
}

func (s *bookingService) backoff() retry.Backoff {
	base := s.cfg.BookingRetryBaseDelay
	b := retry.NewExponential(base)
	if jitter := base / 2; jitter > 0 {
		b = retry.WithJitter(jitter, b)
	}
	b = retry.WithCappedDuration(s.cfg.BookingRetryMaxDelay, b)
	return retry.WithMaxRetries(uint64(max(s.cfg.BookingMaxAttempts, 1)-1), b)
}

// withRetry runs fn until it stops failing with ErrTransient or the attempts run
// out, in which case the result is ErrUnavailable.
func (s *bookingService) withRetry(ctx context.Context, op string, fn retry.RetryFunc) error {
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, bookingserrors.ErrTransient) {
			s.cfg.Log.Warn("Transient reservation store failure",
				"operation", op,
				"attempt", attempt,
				"max_attempts", s.cfg.BookingMaxAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, bookingserrors.ErrTransient):
		return fmt.Errorf("%w: %s gave up after %d attempts: %v", bookingserrors.ErrUnavailable, op, attempt, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s interrupted after %d attempts: %v", bookingserrors.ErrUnavailable, op, attempt, err)
	}
	return err
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.toAppError(err, "retrieve booking")
	}
	return booking, nil
}

func (s *bookingService) ListAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	return s.list(ctx, "bookings",
		func(ctx context.Context) (int64, error) { return s.store.Count(ctx) },
		func(ctx context.Context) ([]*model.Booking, error) { return s.store.FindAll(ctx, limit, offset) },
	)
}

func (s *bookingService) ListByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, int64, error) {
	if userID == "" {
		return nil, 0, apperrors.Unauthorized("User ID is required")
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	return s.list(ctx, "user bookings",
		func(ctx context.Context) (int64, error) { return s.store.CountByUser(ctx, userID) },
		func(ctx context.Context) ([]*model.Booking, error) {
			return s.store.FindByUser(ctx, userID, limit, offset)
		},
	)
}

// list runs the count and the page query concurrently.
func (s *bookingService) list(
	ctx context.Context,
	what string,
	count func(context.Context) (int64, error),
	find func(context.Context) ([]*model.Booking, error),
) ([]*model.Booking, int64, error) {
	var (
		total             int64
		bookings          []*model.Booking
		errCount, errFind error
		wg                sync.WaitGroup
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		total, errCount = count(ctx)
	}()
	go func() {
		defer wg.Done()
		bookings, errFind = find(ctx)
	}()
	wg.Wait()

	if err := errors.Join(errCount, errFind); err != nil {
		s.cfg.Log.Error("Failed to list "+what, "error", err)
		return nil, 0, s.toAppError(err, "list "+what)
	}
	return bookings, total, nil
}

func (s *bookingService) UpdateStatus(ctx context.Context, id string, status model.BookingStatus) (*model.Booking, error) {
	if err := s.validator.ValidateStatus(status); err != nil {
		return nil, s.validationError("Invalid status update", err)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, current, status)
}

func (s *bookingService) Cancel(ctx context.Context, id, userID string) (*model.Booking, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("User ID is required")
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.OwnedBy(userID) {
		s.cfg.Log.Warn("Cancellation by non-owner rejected", "id", id, "user_id", userID)
		return nil, s.toAppError(bookingserrors.ErrForbidden, "cancel booking")
	}
	return s.transition(ctx, current, model.StatusCancelled)
}

// transition applies a status change with a compare-and-set on the status the
// caller observed, so two concurrent transitions cannot both succeed.
func (s *bookingService) transition(ctx context.Context, current *model.Booking, next model.BookingStatus) (*model.Booking, error) {
	if !current.Status.CanTransitionTo(next) {
		return nil, s.toAppError(
			fmt.Errorf("%w: %s -> %s", bookingserrors.ErrInvalidTransition, current.Status, next),
			"update booking status",
		)
	}

	updated, err := s.store.UpdateStatus(ctx, current.ID, current.Status, next)
	if err != nil {
		return nil, s.toAppError(err, "update booking status")
	}

	s.cfg.Log.Info("Booking status updated",
		"id", updated.ID,
		"from", current.Status,
		"to", updated.Status,
	)
	s.publish(ctx, events.StatusChanged(updated, current.Status))
	return updated, nil
}

func (s *bookingService) UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error) {
	sanitizer.SanitizeDetailsUpdate(update)
	if err := s.validator.ValidateDetails(update); err != nil {
		return nil, s.validationError("Invalid update input", err)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, apperrors.Wrap(bookingserrors.ErrInvalidTransition, apperrors.CodeInvalidTransition,
			fmt.Sprintf("A %s booking cannot be edited", current.Status), http.StatusConflict)
	}

	updated, err := s.store.UpdateDetails(ctx, id, update)
	if err != nil {
		return nil, s.toAppError(err, "update booking")
	}
	s.cfg.Log.Info("Booking details updated", "id", id)
	return updated, nil
}

func (s *bookingService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish never fails the caller: the booking is already committed.
func (s *bookingService) publish(ctx context.Context, event model.BookingEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.cfg.Log.Error("Failed to publish booking event",
			"type", event.Type,
			"booking_id", event.BookingID,
			"error", err,
		)
	}
}

func (s *bookingService) validationError(message string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation(message, verrs.Details())
	}
	return apperrors.Validation(message, map[string]any{"error": err.Error()})
}

// toAppError maps store and engine errors onto API errors. The cause stays
// reachable through errors.Is.
func (s *bookingService) toAppError(err error, op string) error {
	var conflict *bookingserrors.ConflictError

	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.As(err, &conflict):
		return apperrors.Wrap(err, apperrors.CodeConflict, "Vehicle is already booked for the requested dates", http.StatusConflict).
			WithDetails(map[string]any{"conflicting_bookings": conflict.Conflicts})
	case errors.Is(err, bookingserrors.ErrConflict):
		return apperrors.Wrap(err, apperrors.CodeConflict, "Vehicle is already booked for the requested dates", http.StatusConflict)
	case errors.Is(err, bookingserrors.ErrVehicleNotFound):
		return apperrors.Wrap(err, apperrors.CodeNotFound, "Vehicle not found", http.StatusNotFound)
	case errors.Is(err, bookingserrors.ErrNotFound):
		return apperrors.Wrap(err, apperrors.CodeNotFound, "Booking not found", http.StatusNotFound)
	case errors.Is(err, bookingserrors.ErrInvalidID):
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "Invalid booking ID format", http.StatusBadRequest)
	case errors.Is(err, bookingserrors.ErrDuplicatePaymentRef):
		return apperrors.Wrap(err, apperrors.CodeDuplicateReference, "Payment reference is already used by another booking", http.StatusConflict)
	case errors.Is(err, bookingserrors.ErrInvalidTransition), errors.Is(err, bookingserrors.ErrStatusChanged):
		return apperrors.Wrap(err, apperrors.CodeInvalidTransition, "Booking status transition not allowed", http.StatusConflict)
	case errors.Is(err, bookingserrors.ErrForbidden):
		return apperrors.Wrap(err, apperrors.CodeForbidden, "Booking belongs to another user", http.StatusForbidden)
	case errors.Is(err, bookingserrors.ErrUnavailable), errors.Is(err, bookingserrors.ErrTransient):
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "Reservation store is temporarily unavailable, retry later", http.StatusServiceUnavailable)
	default:
		s.cfg.Log.Error("Unexpected reservation error", "operation", op, "error", err)
		return apperrors.Internal("Failed to "+op, err)
	}
}
